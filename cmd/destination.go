package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"odatamcp/internal/api"
	"odatamcp/internal/app"
	"odatamcp/internal/destination"

	"github.com/spf13/cobra"
)

var (
	resolveOperation string
	resolveType      string
	resolveJWT       string
)

// destinationCmd groups destination diagnostics.
var destinationCmd = &cobra.Command{
	Use:   "destination",
	Short: "Inspect destination resolution",
}

// destinationResolveCmd resolves a destination without calling the backend.
var destinationResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the destination an operation would use",
	Long: `Resolve the destination an operation would use and print where it came
from and how the call would authenticate. No request is sent to SAP and no
credentials are printed.

Examples:
  odatamcp destination resolve --operation metadata
  odatamcp destination resolve --operation create --jwt "$TOKEN"`,
	Args: cobra.NoArgs,
	RunE: runDestinationResolve,
}

// resolveOutput is printed by destination resolve.
type resolveOutput struct {
	Name                string `json:"name"`
	Type                string `json:"type"`
	Operation           string `json:"operation"`
	Source              string `json:"source"`
	URL                 string `json:"url"`
	Authentication      string `json:"authentication"`
	Effective           string `json:"effectiveAuthentication"`
	Propagation         string `json:"propagation"`
	HasBasicCredentials bool   `json:"hasBasicCredentials"`
}

func runDestinationResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dctx, err := resolveContext(resolveOperation, resolveType)
	if err != nil {
		return err
	}

	resolver, err := app.NewResolver(cfg.Destinations, nil)
	if err != nil {
		return err
	}

	auth := api.AuthContext{JWT: resolveJWT, User: api.TokenSubject(resolveJWT)}
	res, err := resolver.Resolve(cmd.Context(), dctx, auth)
	if err != nil {
		return fmt.Errorf("resolve failed: %w", err)
	}
	return printResolution(cmd.OutOrStdout(), res)
}

func resolveContext(operation, typ string) (destination.Context, error) {
	op := destination.Operation(operation)
	switch op {
	case destination.OpDiscovery, destination.OpMetadata, destination.OpRead,
		destination.OpCreate, destination.OpUpdate, destination.OpDelete:
	default:
		return destination.Context{}, fmt.Errorf("unknown operation %q (discovery, metadata, read, create, update, delete)", operation)
	}

	t := destination.Type(typ)
	switch t {
	case "", destination.DesignTime, destination.Runtime:
	default:
		return destination.Context{}, fmt.Errorf("unknown destination type %q (%s, %s)", typ, destination.DesignTime, destination.Runtime)
	}
	return destination.Context{Type: t, Operation: op}, nil
}

func printResolution(w io.Writer, res *destination.Resolution) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resolveOutput{
		Name:                res.Name,
		Type:                string(res.Type),
		Operation:           string(res.Operation),
		Source:              string(res.Source),
		URL:                 res.Destination.URL,
		Authentication:      string(res.Destination.AuthenticationMode),
		Effective:           string(res.EffectiveAuthentication()),
		Propagation:         string(res.Propagation),
		HasBasicCredentials: res.Destination.HasBasicCredentials(),
	})
}

func init() {
	destinationResolveCmd.Flags().StringVar(&resolveOperation, "operation", string(destination.OpRead), "Operation: discovery, metadata, read, create, update or delete")
	destinationResolveCmd.Flags().StringVar(&resolveType, "type", "", "Force the destination type (design-time or runtime)")
	destinationResolveCmd.Flags().StringVar(&resolveJWT, "jwt", "", "User token for principal propagation")

	destinationCmd.AddCommand(destinationResolveCmd)
	rootCmd.AddCommand(destinationCmd)
}
