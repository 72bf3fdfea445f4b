package main

import (
	"github.com/spf13/cobra"

	"github.com/squirrels-analytics/squirrels-sub000/serv"
)

// servCmd is the cobra CLI command for the serve subcommand
func servCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"serv"},
		Short:   "Run the Squirrels service",
		Run:     cmdServ,
	}
}

// cmdServ is the handler for the serve subcommand
func cmdServ(*cobra.Command, []string) {
	setup(cpath)

	s1, err := serv.NewSquirrelsService(conf)
	if err != nil {
		log.Fatalf("failed to initialize the service: %s", err)
	}

	if err := s1.Start(); err != nil {
		log.Fatalf("failed to start the service: %s", err)
	}
}
