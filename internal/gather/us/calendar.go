package us

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// CalendarClient is the part of the Alpaca trading client used to find
// trading days.
type CalendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// NewCalendarClient creates an Alpaca trading client for calendar lookups.
func NewCalendarClient(apiKey, apiSecret, baseURL string) *alpaca.Client {
	return alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
}

// LatestFinishedTradingDay returns the most recent trading day, as of now,
// whose session has ended (after 20:05 ET, so extended-hours data has
// settled). The result is midnight UTC of that date.
func LatestFinishedTradingDay(client CalendarClient, now time.Time) (time.Time, error) {
	et := newYork()
	now = now.In(et)

	calendar, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}
	if len(calendar) == 0 {
		return time.Time{}, fmt.Errorf("no trading days returned from calendar")
	}

	today := now.Format(time.DateOnly)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 20, 5, 0, 0, et)

	for i := len(calendar) - 1; i >= 0; i-- {
		day, err := time.Parse(time.DateOnly, calendar[i].Date)
		if err != nil {
			continue
		}
		if calendar[i].Date == today {
			if now.After(cutoff) {
				return day, nil
			}
			continue
		}
		if calendar[i].Date < today {
			return day, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not determine latest finished trading day")
}
