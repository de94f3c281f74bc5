package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"patentsmith/internal/backend"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List model providers and credential status",
	RunE:  listBackends,
}

func listBackends(cmd *cobra.Command, args []string) error {
	detected := backend.Detect()
	for _, name := range backend.Providers() {
		status := "missing"
		if backend.Available(name) {
			status = "configured"
		}
		marker := " "
		if name == detected {
			marker = "*"
		}
		fmt.Printf("%s %-10s %-11s (%s)\n",
			marker, name, status, strings.Join(backend.CredentialKeys(name), ", "))
	}
	if detected == "" {
		fmt.Println("\nno provider configured; set one of the credential variables above")
	} else {
		fmt.Printf("\n* auto-detected default\n")
	}
	return nil
}
