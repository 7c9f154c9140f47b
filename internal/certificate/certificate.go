// Package certificate renders the PDF handed to citizens whose ledger is cleared.
package certificate

import (
	"errors"
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
)

var (
	ErrLedgerNotCleared = errors.New("ledger_not_cleared")
	ErrMissingLedger    = errors.New("certificate: ledger is required")
)

const ContentType = "application/pdf"

type Data struct {
	Ledger     *ledgerdomain.CarbonLedger
	CO2PerTree decimal.Decimal
	IssuedAt   time.Time
}

// FileName is the download name offered for a ledger's certificate.
func FileName(ledger *ledgerdomain.CarbonLedger) string {
	return fmt.Sprintf("carbon-offset-%d-%s.pdf", ledger.Year, ledger.ID)
}

// Render builds the certificate. Only CLEARED ledgers qualify.
func Render(data Data) ([]byte, error) {
	ledger := data.Ledger
	if ledger == nil {
		return nil, ErrMissingLedger
	}
	if ledger.Status != ledgerdomain.LedgerStatusCleared {
		return nil, ErrLedgerNotCleared
	}
	issuedAt := data.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(30,
		text.NewCol(12, "Carbon Offset Certificate", props.Text{
			Size:  22,
			Style: fontstyle.Bold,
			Align: align.Center,
			Top:   8,
		}),
	)
	m.AddRow(15,
		text.NewCol(12, fmt.Sprintf("Reporting year %d", ledger.Year), props.Text{
			Size:  13,
			Align: align.Center,
		}),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New("Ledger", props.Text{Style: fontstyle.Bold}),
			text.New(ledger.ID.String(), props.Text{Top: 5}),
			text.New("Citizen", props.Text{Style: fontstyle.Bold, Top: 14}),
			text.New(ledger.UserID.String(), props.Text{Top: 19}),
		),
		col.New(6).Add(
			text.New("Issued", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(issuedAt.Format("2006-01-02"), props.Text{Top: 5, Align: align.Right}),
			text.New("Cleared", props.Text{Style: fontstyle.Bold, Top: 14, Align: align.Right}),
			text.New(ledger.UpdatedAt.UTC().Format("2006-01-02"), props.Text{Top: 19, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(8, "Measure", props.Text{Style: fontstyle.Bold, Size: 10}),
		text.NewCol(4, "Value", props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right}),
	)
	rows := [][2]string{
		{"Emissions recorded (tonnes CO2)", ledger.TotalCO2Tonnes.StringFixed(3)},
		{"Offset unit capacity (tonnes CO2)", data.CO2PerTree.String()},
		{"Offset units planted and verified", fmt.Sprintf("%d", ledger.RequiredOffsetUnits)},
	}
	for _, row := range rows {
		m.AddRow(8,
			text.NewCol(8, row[0], props.Text{Size: 10}),
			text.NewCol(4, row[1], props.Text{Size: 10, Align: align.Right}),
		)
	}

	m.AddRow(25,
		text.NewCol(12, "Every offset unit counted above was planted by a field agent and approved by an administrator.", props.Text{
			Size: 9,
			Top:  12,
		}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
