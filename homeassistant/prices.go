package homeassistant

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/batterymanager/batterymanager/telemetry"
)

// rawPriceSample is the wire shape of one entry in the Tibber price attributes.
type rawPriceSample struct {
	Total    float64 `json:"total"`
	StartsAt string  `json:"startsAt"`
	Level    string  `json:"level"`
}

// PriceCurve reads the `today` and `tomorrow` price arrays from the Tibber
// price entity and returns them as one curve sorted by start time.
// Individual entries that fail to parse are skipped, not fatal.
func (c *Client) PriceCurve(entityID string) ([]telemetry.PriceSample, error) {
	entity, err := c.Entity(entityID)
	if err != nil {
		return nil, err
	}

	var prices []telemetry.PriceSample
	for _, attribute := range []string{"today", "tomorrow"} {
		raw, ok := entity.Attributes[attribute]
		if !ok {
			continue
		}

		var entries []rawPriceSample
		if err := json.Unmarshal(raw, &entries); err != nil {
			c.logger.Warn("Malformed price attribute", "entity", entityID, "attribute", attribute, "error", err)
			continue
		}

		for _, entry := range entries {
			sample, err := entry.toSample()
			if err != nil {
				c.logger.Warn("Skipping malformed price sample", "entity", entityID, "error", err)
				continue
			}
			prices = append(prices, sample)
		}
	}

	if len(prices) == 0 {
		return nil, fmt.Errorf("no price data in entity %s", entityID)
	}

	sort.Slice(prices, func(i, j int) bool {
		return prices[i].StartsAt.Before(prices[j].StartsAt)
	})

	return prices, nil
}

func (r rawPriceSample) toSample() (telemetry.PriceSample, error) {
	startsAt, err := time.Parse(time.RFC3339, r.StartsAt)
	if err != nil {
		return telemetry.PriceSample{}, fmt.Errorf("parse startsAt %q: %w", r.StartsAt, err)
	}
	if r.Total < 0 {
		return telemetry.PriceSample{}, fmt.Errorf("negative price %f at %s", r.Total, r.StartsAt)
	}

	return telemetry.PriceSample{
		StartsAt: startsAt,
		Total:    r.Total,
		Level:    telemetry.ParsePriceLevel(r.Level),
	}, nil
}
