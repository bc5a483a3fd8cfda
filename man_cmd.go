package main

import (
	"fmt"

	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"
)

var manCmd = &cobra.Command{
	Use:                   "man",
	Short:                 "Generates manpages",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Hidden:                true,
	Args:                  cobra.NoArgs,
	PersistentPreRunE:     func(*cobra.Command, []string) error { return nil },
	RunE: func(*cobra.Command, []string) error {
		manPage, err := mcobra.NewManPage(1, rootCmd)
		if err != nil {
			return err
		}

		manPage = manPage.WithSection("Configuration", "porua reads porua.yml from the user config directory. "+
			"PORUA_API_KEY, PORUA_SERVER_URL, PORUA_CACHE_DATABASE_URL, PORUA_JWT_SECRET and SENTRY_DSN "+
			"are read from the environment or a .env file in the working directory.")
		fmt.Println(manPage.Build(roff.NewDocument()))
		return nil
	},
}
