package main

import (
    "log"

    "github.com/spf13/cobra"

    readinesscli "github.com/amirimatin/go-readiness/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "readinessctl",
        Short:         "cluster readiness node and client",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    readinesscli.AddAll(root)
    return root
}
