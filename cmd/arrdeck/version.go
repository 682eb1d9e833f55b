package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arrdeck/arrdeck/internal/constants"
	arrversion "github.com/arrdeck/arrdeck/internal/version"
)

const versionPath = "/api/version"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print client and backend versions",
		Args:  cobra.NoArgs,
		RunE:  runVersion,
	}
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	client := arrversion.String()

	d, err := openDashboard(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), constants.BackendRequestTimeout)
	defer cancel()

	var backend, backendErr string
	res, err := d.Fetcher.Read(ctx, "version", versionPath, 0)
	if err == nil {
		var payload struct {
			Version string `json:"version"`
		}
		err = res.Decode(&payload)
		backend = payload.Version
	}
	if err != nil {
		backendErr = err.Error()
	}
	warning := arrversion.CheckBackendMismatch(backend)

	if out.jsonMode {
		data := map[string]interface{}{"client": client, "backend": backend}
		if backendErr != "" {
			data["backend_error"] = backendErr
		}
		if warning != "" {
			data["warning"] = warning
		}
		return out.Print(data)
	}

	fmt.Fprintf(out.w, "client:  %s\n", arrversion.FormatVersion(client))
	if backendErr != "" {
		fmt.Fprintf(out.w, "backend: unavailable (%s)\n", backendErr)
	} else {
		fmt.Fprintf(out.w, "backend: %s\n", arrversion.FormatVersion(backend))
	}
	if warning != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), warning)
	}
	return nil
}
