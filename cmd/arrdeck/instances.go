package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/arrdeck/arrdeck/internal/constants"
	"github.com/arrdeck/arrdeck/internal/dashboard"
	"github.com/arrdeck/arrdeck/internal/registry"
	"github.com/arrdeck/arrdeck/internal/session"
	"github.com/arrdeck/arrdeck/internal/validator"
)

// Overridable in tests.
var (
	stdin      io.Reader = os.Stdin
	stdinIsTTY           = func() bool { return terminal.IsTerminal(int(os.Stdin.Fd())) }
)

const maskedKey = "********"

type instanceView struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	Enabled    bool   `json:"enabled"`
	InstanceID string `json:"instance_id,omitempty"`
}

func newInstancesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Manage application connections",
	}

	listCmd := &cobra.Command{
		Use:   "list <app>",
		Short: "List the connections of an application",
		Args:  cobra.ExactArgs(1),
		RunE:  runInstancesList,
	}

	addCmd := &cobra.Command{
		Use:   "add <app>",
		Short: "Add a connection and save it",
		Args:  cobra.ExactArgs(1),
		RunE:  runInstancesAdd,
	}
	addCmd.Flags().String("name", "", "Display name (defaults to \"Instance N\")")
	addCmd.Flags().String("url", "", "Application base URL")
	addCmd.Flags().String("api-key", "", "Application API key (prompted when omitted)")
	addCmd.Flags().Bool("disabled", false, "Add the connection disabled")
	addCmd.MarkFlagRequired("url")

	removeCmd := &cobra.Command{
		Use:   "remove <app> <index>",
		Short: "Remove a connection and save",
		Args:  cobra.ExactArgs(2),
		RunE:  runInstancesRemove,
	}

	testCmd := &cobra.Command{
		Use:   "test <app> [index]",
		Short: "Test a connection (all connections when index is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runInstancesTest,
	}

	cmd.AddCommand(listCmd, addCmd, removeCmd, testCmd)
	return cmd
}

// loadApp opens a dashboard and loads the session for app.
func loadApp(cmd *cobra.Command, app string) (*dashboard.Dashboard, *session.Session, error) {
	if _, ok := constants.ApplicationScopeSet[app]; !ok {
		return nil, nil, fmt.Errorf("unknown application %q (known: %s)", app, strings.Join(constants.ApplicationScopes, ", "))
	}
	d, err := openDashboard(cmd)
	if err != nil {
		return nil, nil, err
	}
	s, ok := d.Session(app)
	if !ok {
		d.Close()
		return nil, nil, fmt.Errorf("application %q is not enabled in the configuration", app)
	}
	if !s.Schema().MultiInstance {
		d.Close()
		return nil, nil, fmt.Errorf("%s has a single connection; edit it in the dashboard settings", app)
	}
	if err := s.Load(cmd.Context()); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, s, nil
}

func runInstancesList(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	d, s, err := loadApp(cmd, args[0])
	if err != nil {
		return err
	}
	defer d.Close()

	var views []instanceView
	for i, inst := range s.Instances() {
		key := ""
		if inst.Credential != "" {
			key = maskedKey
		}
		views = append(views, instanceView{
			Index:      i,
			Name:       inst.Name,
			URL:        inst.URL,
			APIKey:     key,
			Enabled:    inst.Enabled,
			InstanceID: inst.InstanceID,
		})
	}

	if out.jsonMode {
		return out.Print(map[string]interface{}{"app": args[0], "instances": views})
	}
	if len(views) == 0 {
		fmt.Fprintf(out.w, "No %s connections configured\n", args[0])
		return nil
	}
	w := tabwriter.NewWriter(out.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tURL\tAPI KEY\tENABLED")
	for _, v := range views {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n", v.Index, v.Name, v.URL, v.APIKey, v.Enabled)
	}
	return w.Flush()
}

func runInstancesAdd(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	app := args[0]

	url, _ := cmd.Flags().GetString("url")
	name, _ := cmd.Flags().GetString("name")
	apiKey, _ := cmd.Flags().GetString("api-key")
	disabled, _ := cmd.Flags().GetBool("disabled")

	if apiKey == "" {
		key, err := promptSecret(cmd, fmt.Sprintf("%s API key: ", app))
		if err != nil {
			return err
		}
		apiKey = key
	}

	d, s, err := loadApp(cmd, app)
	if err != nil {
		return err
	}
	defer d.Close()

	index, err := s.AddInstance()
	if err != nil {
		return err
	}
	enabled := !disabled
	patch := registry.Patch{URL: &url, Credential: &apiKey, Enabled: &enabled}
	if name != "" {
		patch.Name = &name
	}
	if err := s.UpdateInstance(index, patch); err != nil {
		return err
	}
	if _, err := s.Save(cmd.Context()); err != nil {
		return err
	}

	inst, _ := s.Instance(index)
	return out.Success(fmt.Sprintf("Added %s connection %q at index %d", app, inst.Name, index), map[string]interface{}{
		"app":   app,
		"index": index,
		"name":  inst.Name,
	})
}

func runInstancesRemove(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	app := args[0]
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[1])
	}

	d, s, err := loadApp(cmd, app)
	if err != nil {
		return err
	}
	defer d.Close()

	inst, err := s.Instance(index)
	if err != nil {
		return err
	}
	if err := s.RemoveInstance(index); err != nil {
		if errors.Is(err, registry.ErrLastInstanceProtected) {
			return fmt.Errorf("%s: %w", app, err)
		}
		return err
	}
	if _, err := s.Save(cmd.Context()); err != nil {
		return err
	}
	return out.Success(fmt.Sprintf("Removed %s connection %q", app, inst.Name), map[string]interface{}{
		"app":   app,
		"index": index,
	})
}

type testView struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Version string `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}

func runInstancesTest(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	app := args[0]

	d, s, err := loadApp(cmd, app)
	if err != nil {
		return err
	}
	defer d.Close()

	indexes := make([]int, 0, len(s.Instances()))
	if len(args) == 2 {
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid index %q", args[1])
		}
		indexes = append(indexes, index)
	} else {
		for i := range s.Instances() {
			indexes = append(indexes, i)
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(len(indexes)+1)*constants.ConnectionTestTimeout)
	defer cancel()

	var views []testView
	for _, i := range indexes {
		inst, err := s.Instance(i)
		if err != nil {
			return err
		}
		res, err := d.Validator.Validate(ctx, validator.FieldKey(app, i), validator.Candidate{
			Scope:      app,
			URL:        inst.URL,
			Credential: inst.Credential,
			Enabled:    inst.Enabled,
		})
		if err != nil {
			return err
		}
		views = append(views, testView{
			Index:   i,
			Name:    inst.Name,
			Status:  string(res.Status),
			Reason:  res.Reason,
			Version: res.Version,
			Message: res.Message,
		})
	}

	if out.jsonMode {
		return out.Print(map[string]interface{}{"app": app, "results": views})
	}
	w := tabwriter.NewWriter(out.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tSTATUS\tDETAIL")
	for _, v := range views {
		detail := v.Message
		switch {
		case v.Reason != "":
			detail = v.Reason
		case v.Version != "":
			detail = strings.TrimSpace(v.Version + " " + v.Message)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", v.Index, v.Name, v.Status, detail)
	}
	return w.Flush()
}

// promptSecret reads a credential without echo from a terminal, or a line
// from piped stdin.
func promptSecret(cmd *cobra.Command, prompt string) (string, error) {
	if stdinIsTTY() {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		secret, err := terminal.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read API key: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read API key: %w", err)
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return "", errors.New("an API key is required (pass --api-key or pipe it on stdin)")
	}
	return secret, nil
}
