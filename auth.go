package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/ssofetch/internal/account"
	"github.com/tonimelisma/ssofetch/internal/config"
	"github.com/tonimelisma/ssofetch/internal/tokenfile"
	"github.com/tonimelisma/ssofetch/internal/transport"
)

// loginCallbackAddr binds the OAuth2 redirect listener to any free loopback port.
const loginCallbackAddr = "127.0.0.1:0"

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a server account in the browser",
		Long: `Sign in with the OAuth2 authorization code flow (PKCE).

The account identity comes from --account (for example alice@cloud.example.com).
On success the token is saved and, for a new account, an account section is
appended to the config file.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().String("url", "", "server base URL (e.g., https://cloud.example.com)")
	cmd.Flags().String("client-id", "", "OAuth2 client id registered on the server")
	cmd.Flags().String("client-secret", "", "OAuth2 client secret")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved token of the active account",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List configured accounts",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return printAccounts(os.Stdout, resolvedCfg, flagJSON)
		},
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	identity := account.NormalizeIdentity(flagAccount)
	if identity.IsZero() {
		return errors.New("--account is required for login")
	}

	path := configPath()

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	entry, known := cfg.Accounts[identity.String()]
	if !known {
		entry, err = newAccountEntry(cmd)
		if err != nil {
			return err
		}
	}

	tokenPath := config.TokenPath(identity.String(), entry)
	if tokenPath == "" {
		return errors.New("cannot determine token path; set token_file or HOME")
	}

	acct := account.Account{
		Identity:  identity,
		BaseURL:   entry.URL,
		TokenPath: tokenPath,
		OAuth: account.OAuthClient{
			ClientID:     entry.ClientID,
			ClientSecret: entry.ClientSecret,
		},
	}

	if _, err := transport.LoginWithBrowser(ctx, acct, loginCallbackAddr, openBrowser, logger); err != nil {
		return err
	}

	if !known {
		if err := config.AddAccount(path, identity.String(), entry); err != nil {
			return fmt.Errorf("token saved but config not updated: %w", err)
		}
	}

	statusf(flagQuiet, "Signed in as %s.\n", identity)

	return nil
}

// newAccountEntry builds the config section for an account seen for the
// first time from the login flags.
func newAccountEntry(cmd *cobra.Command) (config.Account, error) {
	rawURL, _ := cmd.Flags().GetString("url")
	clientID, _ := cmd.Flags().GetString("client-id")
	clientSecret, _ := cmd.Flags().GetString("client-secret")

	if rawURL == "" {
		return config.Account{}, errors.New("--url is required for an account that is not configured yet")
	}

	if clientID == "" {
		return config.Account{}, errors.New("--client-id is required for an account that is not configured yet")
	}

	return config.Account{
		URL:          strings.TrimRight(rawURL, "/"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}, nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	holder := config.NewHolder(resolvedCfg, resolvedPath)

	acct, err := account.NewConfigResolver(holder, logger).Current(cmd.Context())
	if err != nil {
		return err
	}

	if err := transport.Logout(acct, logger); err != nil {
		return err
	}

	statusf(flagQuiet, "Signed out %s.\n", acct.Identity)

	return nil
}

// accountInfo is one entry of `accounts --json` output.
type accountInfo struct {
	Identity string `json:"identity"`
	URL      string `json:"url"`
	LoggedIn bool   `json:"logged_in"`
	Default  bool   `json:"default"`
}

func listAccounts(cfg *config.Config) []accountInfo {
	if cfg == nil {
		return nil
	}

	names := accountNames(cfg)
	infos := make([]accountInfo, 0, len(names))

	for _, name := range names {
		acct := cfg.Accounts[name]

		loggedIn := false
		if p := config.TokenPath(name, acct); p != "" {
			if tf, err := tokenfile.Load(p); err == nil && tf != nil {
				loggedIn = true
			}
		}

		infos = append(infos, accountInfo{
			Identity: name,
			URL:      acct.URL,
			LoggedIn: loggedIn,
			Default:  name == cfg.DefaultAccount || (cfg.DefaultAccount == "" && len(names) == 1),
		})
	}

	return infos
}

func printAccounts(w io.Writer, cfg *config.Config, asJSON bool) error {
	infos := listAccounts(cfg)

	if asJSON {
		return writeJSON(w, infos)
	}

	if len(infos) == 0 {
		fmt.Fprintln(w, "No accounts configured. Run 'ssofetch login --account <identity> --url <server>'.")
		return nil
	}

	rows := make([][]string, 0, len(infos))

	for _, info := range infos {
		status := "no"
		if info.LoggedIn {
			status = "yes"
		}

		mark := ""
		if info.Default {
			mark = "*"
		}

		rows = append(rows, []string{mark, info.Identity, info.URL, status})
	}

	printTable(w, []string{"", "ACCOUNT", "URL", "LOGGED IN"}, rows)

	return nil
}

// openBrowser hands url to the platform opener.
func openBrowser(url string) error {
	name := "xdg-open"
	if runtime.GOOS == "darwin" {
		name = "open"
	}

	return exec.Command(name, url).Start()
}
