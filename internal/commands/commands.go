package commands

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/rs/zerolog/log"

	"github.com/buildkite/pkgsign/internal/arm"
	"github.com/buildkite/pkgsign/internal/console"
	"github.com/buildkite/pkgsign/internal/sharedkey"
	"github.com/buildkite/pkgsign/sas"
)

const (
	AuthorizerARM       = "arm"
	AuthorizerSharedKey = "sharedkey"
)

type CommonFlags struct {
	Account        string `flag:"account" help:"The storage account holding the container." env:"PKGSIGN_ACCOUNT"`
	Container      string `flag:"container" help:"The blob container packages are published to." env:"PKGSIGN_CONTAINER"`
	Prefix         string `flag:"prefix" help:"The prefix prepended to blob names." env:"PKGSIGN_PREFIX"`
	BucketURL      string `flag:"bucket-url" help:"Overrides the bucket URL used for uploads." env:"PKGSIGN_BUCKET_URL"`
	Authorizer     string `flag:"authorizer" help:"How tokens are issued." enum:"arm,sharedkey" default:"arm" env:"PKGSIGN_AUTHORIZER"`
	Endpoint       string `flag:"endpoint" help:"The Azure Resource Manager endpoint." default:"${arm_endpoint}" env:"PKGSIGN_ARM_ENDPOINT"`
	SubscriptionID string `flag:"subscription-id" help:"The subscription of the storage account." env:"AZURE_SUBSCRIPTION_ID"`
	ResourceGroup  string `flag:"resource-group" help:"The resource group of the storage account." env:"PKGSIGN_RESOURCE_GROUP"`
	AccountKey     string `flag:"account-key" help:"The storage account key, used by the sharedkey authorizer." env:"AZURE_STORAGE_KEY"`

	ContentType        string `flag:"content-type" help:"Content-Type returned for requests made with the token." default:"${content_type}" env:"PKGSIGN_CONTENT_TYPE"`
	CacheControl       string `flag:"cache-control" help:"Cache-Control returned for requests made with the token." default:"${cache_control}" env:"PKGSIGN_CACHE_CONTROL"`
	ContentDisposition string `flag:"content-disposition" help:"Content-Disposition returned for requests made with the token." default:"${content_disposition}" env:"PKGSIGN_CONTENT_DISPOSITION"`
	ContentEncoding    string `flag:"content-encoding" help:"Content-Encoding returned for requests made with the token." default:"${content_encoding}" env:"PKGSIGN_CONTENT_ENCODING"`
}

// Hints returns the response hints selected by the flags.
func (c CommonFlags) Hints() sas.ResponseHints {
	return sas.ResponseHints{
		ContentType:        c.ContentType,
		CacheControl:       c.CacheControl,
		ContentDisposition: c.ContentDisposition,
		ContentEncoding:    c.ContentEncoding,
	}
}

// Vars are the kong variables the flag defaults refer to.
func Vars() map[string]string {
	return map[string]string{
		"arm_endpoint":        arm.DefaultEndpoint,
		"content_type":        sas.DefaultResponseHints.ContentType,
		"cache_control":       sas.DefaultResponseHints.CacheControl,
		"content_disposition": sas.DefaultResponseHints.ContentDisposition,
		"content_encoding":    sas.DefaultResponseHints.ContentEncoding,
	}
}

// ClockSkew is how far before now an unset window start is backdated, so
// storage front ends with a slow clock still accept fresh tokens.
const ClockSkew = 5 * time.Minute

// WindowFlags select the access window of derived URLs. NotAfter wins over
// TTL when both are set.
type WindowFlags struct {
	NotBefore time.Time     `flag:"not-before" help:"Start of the access window (RFC3339). Defaults to five minutes ago."`
	NotAfter  time.Time     `flag:"not-after" help:"End of the access window (RFC3339)."`
	TTL       time.Duration `flag:"ttl" help:"Length of the access window when --not-after is not set. Counted from --not-before when set, otherwise from now." default:"8760h"`
}

// Window resolves the flags against now.
func (w WindowFlags) Window(now time.Time) (sas.AccessWindow, error) {
	if w.NotAfter.IsZero() && w.TTL <= 0 {
		return sas.AccessWindow{}, fmt.Errorf("%w: ttl must be positive, got %s", sas.ErrInvalidWindow, w.TTL)
	}

	var window sas.AccessWindow
	if w.NotBefore.IsZero() {
		window = sas.NewAccessWindow(now, w.TTL)
		window.NotBefore = now.Add(-ClockSkew).UTC()
	} else {
		window = sas.NewAccessWindow(w.NotBefore, w.TTL)
	}

	if !w.NotAfter.IsZero() {
		window.NotAfter = w.NotAfter.UTC()
	}

	if err := window.Validate(); err != nil {
		return sas.AccessWindow{}, err
	}

	return window, nil
}

type Globals struct {
	Debug      bool
	Version    string
	Printer    *console.Printer
	Stdout     io.Writer
	Common     CommonFlags
	Authorizer sas.Authorizer
}

// NewAuthorizer builds the token issuer selected by the common flags.
func NewAuthorizer(ctx context.Context, common CommonFlags, version string) (sas.Authorizer, error) {
	switch common.Authorizer {
	case AuthorizerSharedKey:
		if common.AccountKey == "" {
			return nil, fmt.Errorf("the sharedkey authorizer requires an account key")
		}

		log.Debug().Str("account", common.Account).Msg("signing with account key")

		signer, err := sharedkey.NewSigner(common.Account, common.AccountKey)
		if err != nil {
			return nil, err
		}
		return signer, nil
	case AuthorizerARM, "":
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure credential: %w", err)
		}

		log.Debug().
			Str("endpoint", common.Endpoint).
			Str("subscription_id", common.SubscriptionID).
			Str("resource_group", common.ResourceGroup).
			Msg("issuing tokens through resource manager")

		client, err := arm.NewClient(ctx, arm.Config{
			Endpoint:       common.Endpoint,
			SubscriptionID: common.SubscriptionID,
			ResourceGroup:  common.ResourceGroup,
			UserAgent:      fmt.Sprint("pkgsign/", version),
			Credential:     cred,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported authorizer: %s", common.Authorizer)
	}
}

// Int64ToUint64 converts an int64 to uint64, handling negative values and max int64
func Int64ToUint64(x int64) uint64 {
	if x < 0 {
		return 0
	}
	if x == math.MaxInt64 {
		return math.MaxUint64
	}
	return uint64(x)
}
