package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/roomlink/config"
	"gopkg.in/yaml.v3"
)

var errInvalidFiles = errors.New("some configuration files are invalid")

// checkResult is the outcome of checking one configuration file.
type checkResult struct {
	File   string
	Errors []string
}

func (r checkResult) Valid() bool { return len(r.Errors) == 0 }

func (a *app) configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "inspect configuration",
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "validate configuration files",
				ArgsUsage: "<file>...",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					files := cmd.Args().Slice()
					if len(files) == 0 {
						if path := cmd.String("config"); path != "" {
							files = []string{path}
						}
					}
					if len(files) == 0 {
						return errors.New("no configuration files given")
					}
					return checkFiles(stdout(cmd), files)
				},
			},
			{
				Name:  "show",
				Usage: "print the effective configuration as YAML",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					enc := yaml.NewEncoder(stdout(cmd))
					enc.SetIndent(2)
					if err := enc.Encode(redacted(a.cfg)); err != nil {
						return err
					}
					return enc.Close()
				},
			},
		},
	}
}

// checkConfig loads path over the defaults and validates the result.
func checkConfig(path string) checkResult {
	result := checkResult{File: filepath.Base(path)}

	cfg, err := config.Load(path)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	if err := cfg.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			result.Errors = append(result.Errors, strings.TrimPrefix(line, config.ErrInvalidConfig.Error()+": "))
		}
	}
	return result
}

func checkFiles(w io.Writer, files []string) error {
	allValid := true
	for _, file := range files {
		result := checkConfig(file)
		if result.Valid() {
			fmt.Fprintf(w, "%s: valid\n", result.File)
			continue
		}
		allValid = false
		fmt.Fprintf(w, "%s: invalid\n", result.File)
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
	if !allValid {
		return errInvalidFiles
	}
	return nil
}

// redacted hides credentials before printing.
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	if out.Server.Ngrok.AuthToken != "" {
		out.Server.Ngrok.AuthToken = "<redacted>"
	}
	if out.Cipher.Secret != "" {
		out.Cipher.Secret = "<redacted>"
	}
	return out
}
