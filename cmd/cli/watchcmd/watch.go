package watchcmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"runwarden/internal/client"
	"runwarden/internal/config"
)

var Command = &cobra.Command{
	Use:   "watch",
	Short: "Watches the active run in the terminal",
	Long: `Polls the control plane for the active run every 5 seconds and for dead runs every minute.
Polling check-dead is what pauses runs whose worker has died, so a running watch also keeps
recovery going.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := config.FromCobraCmd(cmd)

		url, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")
		user, _ := cmd.Flags().GetString("user")
		if url == "" {
			url = conf.Worker.ControlPlaneURL
		}
		if token == "" && user == "" {
			return errors.New("either --token or --user is needed to identify the caller")
		}

		c := client.New(url, 15*time.Second)
		c.UserHeader = conf.Auth.Header
		c.UserID = user
		c.Token = token

		p := tea.NewProgram(newWatchModel(c), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "tty") {
				return errors.New("watch requires an interactive terminal (TTY)")
			}
			return fmt.Errorf("watch: %w", err)
		}
		return nil
	},
}

func init() {
	Command.Flags().String("url", "", "control plane base url (default worker.control_plane_url)")
	Command.Flags().String("token", "", "session token, sent as a bearer token")
	Command.Flags().String("user", "", "user id, sent in the identity header")
}
