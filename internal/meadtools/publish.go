package meadtools

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
)

// DataPoint is one telemetry sample published for a hydrometer. The service
// correlates it to the right brew through the device token and name.
type DataPoint struct {
	Name        string
	Gravity     float64
	Temperature float64
	TempUnit    string // "C" or "F"
	Battery     int
}

// PublishDataPoint posts one sample to the hydrometer ingest endpoint.
func (c *Client) PublishDataPoint(ctx context.Context, dp DataPoint) error {
	token, err := c.EnsureDeviceToken(ctx)
	if err != nil {
		return err
	}

	body := map[string]interface{}{
		"token":       token,
		"name":        dp.Name,
		"gravity":     dp.Gravity,
		"temperature": dp.Temperature,
		"temp_units":  dp.TempUnit,
		"battery":     dp.Battery,
	}
	if err := c.doJSON(ctx, http.MethodPost, "publish data point", c.baseURL+"/hydrometer/rapt-pill", body, nil); err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"name":    dp.Name,
		"gravity": dp.Gravity,
	}).Debug("Published data point")
	return nil
}
