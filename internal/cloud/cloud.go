package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caeret/miservice"
	"go.uber.org/zap"

	"github.com/muurk/miiobridge/internal/config"
	"github.com/muurk/miiobridge/internal/logging"
)

// Regions lists the Xiaomi cloud server regions an account may live on.
var Regions = []string{"cn", "de", "i2", "ru", "sg", "us"}

// DefaultRegion is used when the user picks none.
const DefaultRegion = "cn"

// tokenFileName holds the cloud session token blob under the config dir.
// The account password itself is never written to disk.
const tokenFileName = "cloud_token.json"

// IsValidRegion reports whether region is a known cloud region.
func IsValidRegion(region string) bool {
	for _, r := range Regions {
		if r == region {
			return true
		}
	}
	return false
}

// DeviceInfo describes one device registered to a cloud account.
type DeviceInfo struct {
	DID      string `json:"did"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	LocalIP  string `json:"localip"`
	Token    string `json:"token"`
	MAC      string `json:"mac"`
	ParentID string `json:"parent_id"`
	IsOnline bool   `json:"isOnline"`
}

// IsChild reports whether the device hangs off a gateway rather than
// being directly addressable. Children have no own IP or token and
// cannot be controlled over the local protocol.
func (d *DeviceInfo) IsChild() bool {
	return d.ParentID != ""
}

// Client talks to the Xiaomi cloud API for the operations local control
// cannot do: enumerating the account's devices with their tokens, and
// fetching model spec documents.
type Client struct {
	service *miservice.MiIO
	token   *miservice.Token
	region  string
}

// Login authenticates against the Xiaomi cloud. A previously saved
// session token is reused when still valid, so the password is only
// needed when the session has expired. The session token blob is
// persisted under the config directory; the password never is.
func Login(username, password, region string) (*Client, error) {
	if !IsValidRegion(region) {
		return nil, fmt.Errorf("unknown cloud region %q (valid: %v)", region, Regions)
	}

	token := miservice.NewToken()
	path, err := tokenPath()
	if err != nil {
		return nil, err
	}
	if b, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(b, token); err != nil {
			// A corrupt token blob is not fatal; log in from scratch.
			logging.Warn("Ignoring unreadable cloud token cache", zap.Error(err))
			token = miservice.NewToken()
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read cloud token cache: %w", err)
	}

	account, err := miservice.NewAccount(username, password, token)
	if err != nil {
		return nil, fmt.Errorf("cloud login failed: %w", err)
	}

	return &Client{
		service: miservice.NewMiIO(account, region),
		token:   token,
		region:  region,
	}, nil
}

// Region returns the cloud region this client is bound to.
func (c *Client) Region() string {
	return c.region
}

// SaveSession persists the session token blob so later invocations can
// skip the password prompt.
func (c *Client) SaveSession() error {
	path, err := tokenPath()
	if err != nil {
		return err
	}
	b, err := json.Marshal(c.token)
	if err != nil {
		return fmt.Errorf("failed to marshal cloud token: %w", err)
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return fmt.Errorf("failed to write cloud token cache: %w", err)
	}
	return nil
}

// ClearSession removes the persisted session token.
func ClearSession() error {
	path, err := tokenPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Devices returns every device registered to the account, children
// included; callers filter with DeviceInfo.IsChild as needed. The
// library's own device type is not part of its stable surface, so the
// list is round-tripped through JSON into our struct.
func (c *Client) Devices(ctx context.Context) ([]DeviceInfo, error) {
	raw, err := c.service.ListDevices(ctx, false, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list cloud devices: %w", err)
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode device list: %w", err)
	}
	var devices []DeviceInfo
	if err := json.Unmarshal(b, &devices); err != nil {
		return nil, fmt.Errorf("failed to decode device list: %w", err)
	}
	return devices, nil
}

// ControllableDevices returns the account's devices that can be driven
// over the local protocol: non-children with an IP and a token.
func (c *Client) ControllableDevices(ctx context.Context) ([]DeviceInfo, error) {
	all, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DeviceInfo, 0, len(all))
	for _, d := range all {
		if d.IsChild() || d.LocalIP == "" || d.Token == "" {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// FetchSpec downloads the MiOT spec document for a model. Spec documents
// are immutable per model revision, so results are cached on disk; pass
// refresh to bypass the cache.
func FetchSpec(ctx context.Context, model string, refresh bool) ([]byte, error) {
	path, err := specCachePath(model)
	if err != nil {
		return nil, err
	}

	if !refresh {
		if b, err := os.ReadFile(path); err == nil {
			return b, nil
		}
	}

	raw, err := miservice.GetSpec(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch spec for %s: %w", model, err)
	}

	if err := os.WriteFile(path, raw, 0644); err != nil {
		logging.Warn("Failed to cache spec document",
			zap.String("model", model),
			zap.Error(err))
	}
	return raw, nil
}

func tokenPath() (string, error) {
	dir, err := config.GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return filepath.Join(dir, tokenFileName), nil
}

func specCachePath(model string) (string, error) {
	dir, err := config.GetConfigDir()
	if err != nil {
		return "", err
	}
	specDir := filepath.Join(dir, "specs")
	if err := os.MkdirAll(specDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create spec cache directory: %w", err)
	}
	return filepath.Join(specDir, model+".json"), nil
}
