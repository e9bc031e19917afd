package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/mailroom/internal/config"
	"github.com/ignite/mailroom/internal/contacts"
	"github.com/ignite/mailroom/internal/mailapi"
	"github.com/ignite/mailroom/internal/setup"
	"github.com/ignite/mailroom/internal/supervisor"
)

func main() {
	args := os.Args[1:]

	cmd := "run"
	if len(args) > 0 && !isFlag(args[0]) {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "run":
		runService()
	case "setup":
		applyFlag := false
		for _, a := range args {
			if a == "--apply" {
				applyFlag = true
			}
		}
		os.Exit(runSetup(applyFlag))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected \"run\" or \"setup\")\n", cmd)
		os.Exit(1)
	}
}

func isFlag(s string) bool {
	return len(s) > 0 && s[0] == '-'
}

func runService() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Printf("configuration error: %v", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := supervisor.Run(ctx, cfg); err != nil {
		log.Printf("mailroom stopped: %v", err)
		os.Exit(1)
	}
}

func runSetup(apply bool) int {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	ctx := context.Background()

	mail := mailapi.New(cfg.Auth.MailHostname(), cfg.Auth.JMAPToken)
	if err := mail.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "jmap connection failed: %v\n", err)
		return 1
	}

	contactStore := contacts.New(cfg.Auth.CardDAVHostname(), cfg.Auth.CardDAVUsername, cfg.Auth.CardDAVPassword)
	if err := contactStore.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "carddav connection failed: %v\n", err)
		return 1
	}

	plan, err := setup.Plan(ctx, cfg, mail, contactStore)
	if err != nil {
		fmt.Fprintf(os.Stderr, "planning resources failed: %v\n", err)
		return 1
	}

	if !apply {
		setup.PrintPlan(os.Stdout, plan, false)
		return 0
	}

	result := setup.Apply(ctx, plan, mail, contactStore)
	setup.PrintPlan(os.Stdout, result, true)

	if setup.AnyFailed(result) {
		return 1
	}
	return 0
}
