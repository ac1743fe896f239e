package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/devgate/internal/gateway/core/model"
)

type devicesOptions struct {
	server  string
	timeout time.Duration
	online  bool
}

func newDevicesCommand() *cobra.Command {
	o := &devicesOptions{server: "http://127.0.0.1:8080", timeout: 5 * time.Second}
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices known to a running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.server, "server", o.server, "Base URL of the gateway REST API.")
	cmd.Flags().DurationVar(&o.timeout, "timeout", o.timeout, "Request timeout.")
	cmd.Flags().BoolVar(&o.online, "online", o.online, "Only show online devices.")
	return cmd
}

type deviceListResponse struct {
	Devices []model.Device `json:"devices"`
	Count   int            `json:"count"`
	Online  int            `json:"online"`
}

func (o *devicesOptions) run(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	url := strings.TrimSuffix(o.server, "/") + "/devices"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query %s: unexpected status %s", url, resp.Status)
	}

	var list deviceListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decode device list: %w", err)
	}

	_, err = fmt.Fprintln(out, renderDevices(list, o.online, time.Now()))
	return err
}

func renderDevices(list deviceListResponse, onlineOnly bool, now time.Time) string {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("DEVICE", "TYPE", "STATUS", "LAST SEEN", "FIRMWARE", "UPTIME")
	for _, d := range list.Devices {
		if onlineOnly && !d.Online() {
			continue
		}
		table.AddRow(d.ID, d.Type, d.Status, since(d.LastSeen, now), orDash(d.FirmwareVersion),
			(time.Duration(d.Uptime) * time.Second).String())
	}
	return fmt.Sprintf("%s\n\n%d devices, %d online", table, list.Count, list.Online)
}

func since(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return now.Sub(t).Truncate(time.Second).String() + " ago"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
