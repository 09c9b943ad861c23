package taxfolio

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/etnz/taxfolio/date"
	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// eventHeader holds the fields shared by every line of an event stream.
type eventHeader struct {
	Seq        int64     `json:"seq"`
	Date       date.Date `json:"date"`
	Settlement date.Date `json:"settlement"`
	Kind       string    `json:"kind"`
}

type ratioJSON struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

func (r ratioJSON) Ratio() Ratio { return Ratio{From: r.From, To: r.To} }

// DecodeEvents reads an event stream in JSONL format, one event per line.
// The `kind` field selects the payload. Events are returned in file order;
// ordering is validated by the Processor.
func DecodeEvents(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		lineBytes := scanner.Bytes()
		if len(lineBytes) == 0 {
			continue // Skip empty lines
		}
		ev, err := decodeEvent(lineBytes)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading from input: %w", err)
	}
	return events, nil
}

func decodeEvent(lineBytes []byte) (Event, error) {
	var head eventHeader
	if err := json.Unmarshal(lineBytes, &head); err != nil {
		return Event{}, fmt.Errorf("could not identify event in %q: %w", string(lineBytes), err)
	}
	ev := Event{Seq: head.Seq, Date: head.Date, Settlement: head.Settlement}

	var err error
	switch head.Kind {
	case "trade":
		var temp struct {
			Symbol     string   `json:"symbol"`
			Quantity   Quantity `json:"quantity"`
			Price      Money    `json:"price"`
			Commission Money    `json:"commission"`
		}
		err = json.Unmarshal(lineBytes, &temp)
		ev.Payload = Trade(temp)
	case string(Dividend), string(Interest):
		var temp struct {
			Symbol   string `json:"symbol"`
			Amount   Money  `json:"amount"`
			Withheld Money  `json:"withheld"`
		}
		err = json.Unmarshal(lineBytes, &temp)
		ev.Payload = Payout{Kind: IncomeKind(head.Kind), Symbol: temp.Symbol, Amount: temp.Amount, Withheld: temp.Withheld}
	case "fee":
		var temp struct {
			Description string `json:"description"`
			Amount      Money  `json:"amount"`
		}
		err = json.Unmarshal(lineBytes, &temp)
		ev.Payload = Fee(temp)
	case "split":
		var temp struct {
			Symbol string    `json:"symbol"`
			Ratio  ratioJSON `json:"ratio"`
		}
		err = json.Unmarshal(lineBytes, &temp)
		ev.Payload = StockSplit{Symbol: temp.Symbol, Ratio: temp.Ratio.Ratio()}
	case "reverse-split":
		var temp struct {
			Symbol     string    `json:"symbol"`
			Ratio      ratioJSON `json:"ratio"`
			CashInLieu *Money    `json:"cashInLieu"`
		}
		err = json.Unmarshal(lineBytes, &temp)
		ev.Payload = ReverseSplit{Symbol: temp.Symbol, Ratio: temp.Ratio.Ratio(), CashInLieu: temp.CashInLieu}
	case "rename":
		var temp struct {
			Symbol    string `json:"symbol"`
			NewSymbol string `json:"newSymbol"`
		}
		err = json.Unmarshal(lineBytes, &temp)
		ev.Payload = Rename(temp)
	case "spin-off":
		var temp struct {
			Symbol     string           `json:"symbol"`
			NewSymbol  string           `json:"newSymbol"`
			Ratio      ratioJSON        `json:"ratio"`
			Allocation *decimal.Decimal `json:"allocation"`
			OldPrice   *Money           `json:"oldPrice"`
			NewPrice   *Money           `json:"newPrice"`
		}
		err = json.Unmarshal(lineBytes, &temp)
		ev.Payload = SpinOff{
			Symbol:     temp.Symbol,
			NewSymbol:  temp.NewSymbol,
			Ratio:      temp.Ratio.Ratio(),
			Allocation: temp.Allocation,
			OldPrice:   temp.OldPrice,
			NewPrice:   temp.NewPrice,
		}
	case "stock-dividend":
		var temp struct {
			Symbol          string          `json:"symbol"`
			NewSymbol       string          `json:"newSymbol"`
			QuantityPerHeld decimal.Decimal `json:"quantityPerHeld"`
			UnitCost        *Money          `json:"unitCost"`
		}
		err = json.Unmarshal(lineBytes, &temp)
		ev.Payload = StockDividend(temp)
	case "merger":
		var temp struct {
			Symbol     string    `json:"symbol"`
			IntoSymbol string    `json:"intoSymbol"`
			Ratio      ratioJSON `json:"ratio"`
		}
		err = json.Unmarshal(lineBytes, &temp)
		ev.Payload = Merger{Symbol: temp.Symbol, IntoSymbol: temp.IntoSymbol, Ratio: temp.Ratio.Ratio()}
	case "delisting":
		var temp struct {
			Symbol   string    `json:"symbol"`
			Quantity *Quantity `json:"quantity"`
			Cash     *Money    `json:"cash"`
		}
		err = json.Unmarshal(lineBytes, &temp)
		ev.Payload = Delisting(temp)
	default:
		err = fmt.Errorf("%w: unknown event kind %q", ErrInvalidEvent, head.Kind)
	}
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

// MarshalJSON writes the event on a single object with a stable field order.
func (ev Event) MarshalJSON() ([]byte, error) {
	if ev.Payload == nil {
		return nil, fmt.Errorf("%w: event %d without payload", ErrInvalidEvent, ev.Seq)
	}
	var w jsonObjectWriter
	w.Append("seq", ev.Seq)
	w.Append("date", ev.Date)
	w.Optional("settlement", ev.Settlement)
	w.Append("kind", ev.Payload.kind())

	switch p := ev.Payload.(type) {
	case Trade:
		w.Append("symbol", p.Symbol)
		w.Append("quantity", p.Quantity)
		w.Append("price", p.Price)
		w.Optional("commission", p.Commission)
	case Payout:
		w.Optional("symbol", p.Symbol)
		w.Append("amount", p.Amount)
		w.Optional("withheld", p.Withheld)
	case Fee:
		w.Optional("description", p.Description)
		w.Append("amount", p.Amount)
	case StockSplit:
		w.Append("symbol", p.Symbol)
		w.Append("ratio", ratioJSON(p.Ratio))
	case ReverseSplit:
		w.Append("symbol", p.Symbol)
		w.Append("ratio", ratioJSON(p.Ratio))
		w.Optional("cashInLieu", p.CashInLieu)
	case Rename:
		w.Append("symbol", p.Symbol)
		w.Append("newSymbol", p.NewSymbol)
	case SpinOff:
		w.Append("symbol", p.Symbol)
		w.Append("newSymbol", p.NewSymbol)
		w.Append("ratio", ratioJSON(p.Ratio))
		w.Optional("allocation", p.Allocation)
		w.Optional("oldPrice", p.OldPrice)
		w.Optional("newPrice", p.NewPrice)
	case StockDividend:
		w.Append("symbol", p.Symbol)
		w.Optional("newSymbol", p.NewSymbol)
		w.Append("quantityPerHeld", p.QuantityPerHeld)
		w.Optional("unitCost", p.UnitCost)
	case Merger:
		w.Append("symbol", p.Symbol)
		w.Append("intoSymbol", p.IntoSymbol)
		w.Append("ratio", ratioJSON(p.Ratio))
	case Delisting:
		w.Append("symbol", p.Symbol)
		w.Optional("quantity", p.Quantity)
		w.Optional("cash", p.Cash)
	default:
		return nil, fmt.Errorf("%w: unhandled payload %T", ErrInvalidEvent, ev.Payload)
	}
	return w.MarshalJSON()
}

// EncodeEvents writes events in JSONL format, one event per line.
func EncodeEvents(w io.Writer, events []Event) error {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %d: %w", ev.Seq, err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write event %d: %w", ev.Seq, err)
		}
	}
	return nil
}
