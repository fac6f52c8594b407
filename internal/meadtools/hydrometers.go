package meadtools

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Hydrometer is the service's record of one registered physical sensor. The
// id identifies the sensor itself; which brew it feeds is a separate record.
type Hydrometer struct {
	ID         int64  `json:"id"`
	DeviceName string `json:"device_name"`
}

// ListHydrometers fetches every hydrometer registered to the account.
func (c *Client) ListHydrometers(ctx context.Context) ([]Hydrometer, error) {
	var out struct {
		Devices []Hydrometer `json:"devices"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "list hydrometers", c.baseURL+"/hydrometer", nil, &out); err != nil {
		return nil, err
	}
	c.logger.WithField("count", len(out.Devices)).Debug("Fetched hydrometers")
	return out.Devices, nil
}

// RegisterHydrometer registers a new RAPT Pill under the device token and
// returns its id.
func (c *Client) RegisterHydrometer(ctx context.Context, name string) (int64, error) {
	token, err := c.EnsureDeviceToken(ctx)
	if err != nil {
		return 0, err
	}

	body := map[string]string{
		"token": token,
		"name":  name,
	}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "register hydrometer", c.baseURL+"/hydrometer/rapt-pill/register", body, &out); err != nil {
		return 0, err
	}
	c.logger.WithFields(logrus.Fields{"name": name, "id": out.ID}).Info("Registered hydrometer")
	return out.ID, nil
}

// ResolveHydrometer finds the hydrometer whose remote device name matches
// name, registering a new one when no match exists. Running it twice against
// the same remote state yields the same id.
func (c *Client) ResolveHydrometer(ctx context.Context, name string) (int64, error) {
	if _, err := c.EnsureDeviceToken(ctx); err != nil {
		return 0, err
	}

	hydrometers, err := c.ListHydrometers(ctx)
	if err != nil {
		return 0, err
	}
	for _, h := range hydrometers {
		if h.DeviceName == name {
			return h.ID, nil
		}
	}
	return c.RegisterHydrometer(ctx, name)
}
