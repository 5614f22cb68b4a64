package sheets

import (
	"context"
	"fmt"
	"time"

	sheetsv4 "google.golang.org/api/sheets/v4"

	"referral-bot/internal/models"
)

// ExportParticipants replaces the content of sheet with one row per
// participant and returns the number of participant rows written.
func (c *Client) ExportParticipants(ctx context.Context, sheet string, ps []models.Participant, chains []models.Chain) (int, error) {
	if err := c.ensureSheet(ctx, sheet); err != nil {
		return 0, err
	}
	if err := c.clear(ctx, sheet); err != nil {
		return 0, fmt.Errorf("clear %s: %w", sheet, err)
	}
	vr := &sheetsv4.ValueRange{Values: participantRows(ps, chains)}
	_, err := c.srv.Spreadsheets.Values.Update(c.spreadsheetID, sheet+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", sheet, err)
	}
	return len(ps), nil
}

func (c *Client) clear(ctx context.Context, sheet string) error {
	_, err := c.srv.Spreadsheets.Values.Clear(c.spreadsheetID, sheet+"!A:Z", &sheetsv4.ClearValuesRequest{}).
		Context(ctx).
		Do()
	return err
}

// ---------- rows ----------

func participantRows(ps []models.Participant, chains []models.Chain) [][]interface{} {
	header := []interface{}{"id", "referrer_id", "referrer_kind", "referral_level", "language", "links_issued", "links_used", "created_at"}
	for _, ch := range chains {
		header = append(header, string(ch)+"_address", string(ch)+"_tx", string(ch)+"_tx_error")
	}

	rows := make([][]interface{}, 0, len(ps)+1)
	rows = append(rows, header)
	for _, p := range ps {
		row := []interface{}{
			p.ID,
			p.ReferrerID,
			string(p.ReferrerKind),
			p.ReferralLevel,
			p.Language,
			len(p.UsedLinks),
			p.ConsumedLinks(),
			p.CreatedAt.UTC().Format(time.RFC3339),
		}
		for _, ch := range chains {
			rec := p.ChainRecords[ch]
			row = append(row, rec.Address, rec.TxID, rec.TxError)
		}
		rows = append(rows, row)
	}
	return rows
}
