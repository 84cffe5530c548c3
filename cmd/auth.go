package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"odatamcp/internal/ias"
	"odatamcp/internal/session"

	"github.com/spf13/cobra"
)

var (
	loginUsername string
	loginPassword string
)

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authenticate against SAP Identity Authentication Service",
}

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain tokens with the password grant (deprecated)",
	Long: `Obtain tokens from SAP IAS with the resource owner password grant and
print them as JSON.

The password grant is deprecated; prefer the browser flow of the gateway
(/authorize). When --password is omitted it is read from stdin.

Examples:
  odatamcp auth login --username alice
  echo "$PASSWORD" | odatamcp auth login --username alice`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

// loginOutput is printed by auth login.
type loginOutput struct {
	User         string   `json:"user"`
	Scopes       []string `json:"scopes"`
	ExpiresIn    int      `json:"expiresIn"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken,omitempty"`
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if loginUsername == "" {
		return errors.New("--username is required")
	}
	password := loginPassword
	if password == "" {
		if password, err = readPassword(cmd.InOrStdin()); err != nil {
			return err
		}
	}

	client := ias.NewClient(cfg.IAS)
	data, err := client.AuthenticateUser(cmd.Context(), loginUsername, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	return printLogin(cmd.OutOrStdout(), data)
}

func readPassword(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("--password is required (or pass it on stdin)")
	}
	return password, nil
}

func printLogin(w io.Writer, data *session.TokenData) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(loginOutput{
		User:         data.User,
		Scopes:       data.Scopes,
		ExpiresIn:    data.ExpiresIn,
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
	})
}

func init() {
	authLoginCmd.Flags().StringVar(&loginUsername, "username", "", "IAS user name")
	authLoginCmd.Flags().StringVar(&loginPassword, "password", "", "IAS password (read from stdin when omitted)")

	authCmd.AddCommand(authLoginCmd)
	rootCmd.AddCommand(authCmd)
}
