package arm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/buildkite/pkgsign/internal/trace"
	"github.com/buildkite/pkgsign/sas"
	"github.com/google/go-querystring/query"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
	otel "go.opentelemetry.io/otel/trace"
)

const (
	DefaultEndpoint   = "https://management.azure.com"
	DefaultAPIVersion = "2023-05-01"

	managementScope = "https://management.azure.com/.default"

	// the format ARM documents for signedStart / signedExpiry
	timeFormat = "2006-01-02T15:04:05Z"
)

// ErrEmptyToken is returned when ARM answers 200 without a token.
var ErrEmptyToken = errors.New("empty service sas token")

// isJSONContentType checks if the content type indicates JSON response
// Handles cases like "application/json" and "application/json; charset=utf-8"
func isJSONContentType(contentType string) bool {
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	return strings.HasPrefix(contentType, "application/json")
}

// Client calls the Microsoft.Storage ListServiceSas operation. It implements
// sas.Authorizer.
type Client struct {
	client         *http.Client
	endpoint       string
	apiVersion     string
	subscriptionID string
	resourceGroup  string
}

var _ sas.Authorizer = Client{}

type Config struct {
	// Endpoint defaults to DefaultEndpoint.
	Endpoint string
	// APIVersion defaults to DefaultAPIVersion.
	APIVersion     string
	SubscriptionID string
	ResourceGroup  string
	UserAgent      string
	Credential     azcore.TokenCredential
}

// ServiceSasParameters is the ListServiceSas request body.
type ServiceSasParameters struct {
	CanonicalizedResource string `json:"canonicalizedResource"`
	SignedResource        string `json:"signedResource,omitempty"`
	SignedPermission      string `json:"signedPermission,omitempty"`
	SignedProtocol        string `json:"signedProtocol,omitempty"`
	SignedStart           string `json:"signedStart,omitempty"`
	SignedExpiry          string `json:"signedExpiry,omitempty"`
	CacheControl          string `json:"rscc,omitempty"`
	ContentDisposition    string `json:"rscd,omitempty"`
	ContentEncoding       string `json:"rsce,omitempty"`
	ContentType           string `json:"rsct,omitempty"`
}

type ListServiceSasResponse struct {
	ServiceSasToken string `json:"serviceSasToken"`
}

type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type apiVersionQuery struct {
	APIVersion string `url:"api-version"`
}

func NewClient(ctx context.Context, cfg Config) (Client, error) {
	if cfg.SubscriptionID == "" {
		return Client{}, fmt.Errorf("subscription id is required")
	}
	if cfg.ResourceGroup == "" {
		return Client{}, fmt.Errorf("resource group is required")
	}
	if cfg.Credential == nil {
		return Client{}, fmt.Errorf("credential is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	client := &http.Client{Timeout: 60 * time.Second}

	client.Transport = gzhttp.Transport(roundTripperFunc(
		func(req *http.Request) (*http.Response, error) {
			tok, err := cfg.Credential.GetToken(req.Context(), policy.TokenRequestOptions{
				Scopes: []string{managementScope},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to get management token: %w", err)
			}

			req = req.Clone(req.Context())
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", tok.Token))
			req.Header.Set("User-Agent", cfg.UserAgent)
			req.Header.Set("Accept", "application/json")
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("x-ms-client-request-id", uuid.NewString())
			return http.DefaultTransport.RoundTrip(req)
		}),
	)

	return Client{
		client:         client,
		endpoint:       strings.TrimSuffix(cfg.Endpoint, "/"),
		apiVersion:     cfg.APIVersion,
		subscriptionID: cfg.SubscriptionID,
		resourceGroup:  cfg.ResourceGroup,
	}, nil
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (fn roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return fn(r)
}

// ServiceSAS issues a service SAS for the request's container.
func (c Client) ServiceSAS(ctx context.Context, req sas.TokenRequest) (string, error) {
	ctx, span := trace.Start(ctx, "Client.ServiceSAS")
	defer span.End()

	queryParams, err := query.Values(apiVersionQuery{APIVersion: c.apiVersion})
	if err != nil {
		return "", trace.NewError(span, "failed to marshal query params: %w", err)
	}

	u, err := url.Parse(fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Storage/storageAccounts/%s/ListServiceSas",
		c.endpoint,
		url.PathEscape(c.subscriptionID),
		url.PathEscape(c.resourceGroup),
		url.PathEscape(req.AccountName),
	))
	if err != nil {
		return "", trace.NewError(span, "failed to parse url: %w", err)
	}

	u.RawQuery = queryParams.Encode()

	body := ServiceSasParameters{
		CanonicalizedResource: req.CanonicalizedResource,
		SignedResource:        req.SignedResource,
		SignedPermission:      req.Permissions,
		SignedProtocol:        req.Protocol,
		SignedStart:           req.Window.NotBefore.UTC().Format(timeFormat),
		SignedExpiry:          req.Window.NotAfter.UTC().Format(timeFormat),
		CacheControl:          req.Hints.CacheControl,
		ContentDisposition:    req.Hints.ContentDisposition,
		ContentEncoding:       req.Hints.ContentEncoding,
		ContentType:           req.Hints.ContentType,
	}

	log.Debug().
		Str("account", req.AccountName).
		Str("resource_group", c.resourceGroup).
		Str("canonicalized_resource", body.CanonicalizedResource).
		Msg("listing service sas")

	resp, err := doRequest[ServiceSasParameters, ListServiceSasResponse](ctx, span, c.client, http.MethodPost, u.String(), &body)
	if err != nil {
		return "", err
	}

	if resp.ServiceSasToken == "" {
		return "", trace.NewError(span, "list service sas for %s: %w", req.AccountName, ErrEmptyToken)
	}

	return resp.ServiceSasToken, nil
}

func doRequest[T any, V any](ctx context.Context, span otel.Span, client *http.Client, method string, url string, body *T) (resp V, err error) {
	var bodyrdr io.Reader = http.NoBody

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return resp, trace.NewError(span, "failed to marshal request body: %w", err)
		}
		bodyrdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyrdr)
	if err != nil {
		return resp, trace.NewError(span, "failed to create request: %w", err)
	}

	res, err := client.Do(req)
	if err != nil {
		return resp, trace.NewError(span, "failed to do request: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	contentType := res.Header.Get("Content-Type")

	if res.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if isJSONContentType(contentType) && json.NewDecoder(res.Body).Decode(&errResp) == nil && errResp.Error.Code != "" {
			return resp, trace.NewError(span, "request failed with status: %s: %s: %s", res.Status, errResp.Error.Code, errResp.Error.Message)
		}
		return resp, trace.NewError(span, "request failed with status: %s", res.Status)
	}

	if !isJSONContentType(contentType) {
		return resp, trace.NewError(span, "unexpected content type: %s", contentType)
	}

	if err = json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return resp, trace.NewError(span, "failed to decode response body: %w", err)
	}

	return resp, nil
}
