package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	_ "time/tzdata"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Erreur:", err)
		}
		os.Exit(1)
	}
}
