package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  `Query the health endpoint of a running honeypot server.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "server address host:port (default from config)")
	rootCmd.AddCommand(statusCmd)
}

type healthResponse struct {
	Status   string  `json:"status"`
	Uptime   float64 `json:"uptime"`
	Sessions int     `json:"sessions"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := statusAddr
	if addr == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Status: stopped")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("invalid health response: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status: running\n")
	fmt.Fprintf(out, "Address: %s\n", addr)
	fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Duration(health.Uptime*float64(time.Second))))
	fmt.Fprintf(out, "Sessions: %d\n", health.Sessions)

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
