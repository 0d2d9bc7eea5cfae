package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wukaijin/moltbot-with-lark/internal/config"
)

// initCmd walks the user through a minimal configuration and writes it
// to disk. Secrets are written as ${VAR} references so the file stays
// safe to commit.
func initCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively create a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			answers := initAnswers{
				Backend:  "openai",
				Delivery: "websocket",
				Format:   "card",
			}

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Lark app ID").
						Description("From the Lark developer console, Credentials page.").
						Value(&answers.AppID).
						Validate(requireValue("app ID")),
					huh.NewInput().
						Title("Lark app secret").
						EchoMode(huh.EchoModePassword).
						Value(&answers.AppSecret).
						Validate(requireValue("app secret")),
					huh.NewSelect[string]().
						Title("Event delivery").
						Options(
							huh.NewOption("Long connection (websocket)", "websocket"),
							huh.NewOption("Webhook (requires public HTTPS endpoint)", "webhook"),
						).
						Value(&answers.Delivery),
				),
				huh.NewGroup(
					huh.NewSelect[string]().
						Title("LLM backend").
						Options(
							huh.NewOption("OpenAI (or any compatible API)", "openai"),
							huh.NewOption("Anthropic", "anthropic"),
						).
						Value(&answers.Backend),
					huh.NewInput().
						Title("Model").
						Description("Leave empty to use the backend default.").
						Value(&answers.Model),
					huh.NewSelect[string]().
						Title("Response format").
						Options(
							huh.NewOption("Interactive card (streams partial replies)", "card"),
							huh.NewOption("Rich text", "rich_text"),
							huh.NewOption("Plain text", "plain"),
						).
						Value(&answers.Format),
					huh.NewConfirm().
						Title("Enable the HTTP gateway?").
						Description("Serves /health, /metrics, and the admin API on :8080.").
						Value(&answers.Gateway),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			cfg := answers.toConfig()
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}

			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("refusing to overwrite existing %s", output)
			}
			if dir := filepath.Dir(output); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			fmt.Fprintln(cmd.OutOrStdout(), "Set the referenced environment variables before starting:")
			for _, v := range answers.envVars() {
				fmt.Fprintf(cmd.OutOrStdout(), "  export %s=...\n", v)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "moltbot.yaml", "where to write the configuration")
	return cmd
}

type initAnswers struct {
	AppID     string
	AppSecret string
	Delivery  string
	Backend   string
	Model     string
	Format    string
	Gateway   bool
}

func (a initAnswers) toConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Lark.AppID = a.AppID
	cfg.Lark.AppSecret = a.AppSecret
	cfg.Provider.Backend = a.Backend
	cfg.Provider.Format = a.Format

	switch a.Backend {
	case "anthropic":
		cfg.Provider.Anthropic.APIKey = "${ANTHROPIC_API_KEY}"
		cfg.Provider.Anthropic.Model = a.Model
	default:
		cfg.Provider.OpenAI.APIKey = "${OPENAI_API_KEY}"
		cfg.Provider.OpenAI.Model = a.Model
	}

	if a.Delivery == "webhook" {
		cfg.Lark.VerificationToken = "${LARK_VERIFICATION_TOKEN}"
		cfg.Lark.EncryptKey = "${LARK_ENCRYPT_KEY}"
		cfg.Gateway.Listen = ":8080"
	} else {
		cfg.Lark.WSEndpoint = "wss://open.larksuite.com/callback/ws"
	}
	if a.Gateway {
		cfg.Gateway.Listen = ":8080"
	}
	return cfg
}

// envVars lists the ${VAR} placeholders the generated file references.
func (a initAnswers) envVars() []string {
	var vars []string
	if a.Backend == "anthropic" {
		vars = append(vars, "ANTHROPIC_API_KEY")
	} else {
		vars = append(vars, "OPENAI_API_KEY")
	}
	if a.Delivery == "webhook" {
		vars = append(vars, "LARK_VERIFICATION_TOKEN", "LARK_ENCRYPT_KEY")
	}
	return vars
}

func requireValue(name string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}
