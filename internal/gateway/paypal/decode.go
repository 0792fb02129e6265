package paypal

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

type paymentResponse struct {
	ID          string
	State       string
	ApprovalURL string
	PayerID     string
	Amount      decimal.Decimal
	Currency    string
	SaleState   string
}

func decodePayment(body []byte) (*paymentResponse, error) {
	var p paymentResponse
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return decodeStr(d, &p.ID)
		case "state":
			return decodeStr(d, &p.State)
		case "links":
			return d.Arr(func(d *jx.Decoder) error {
				var href, rel string
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "href":
						return decodeStr(d, &href)
					case "rel":
						return decodeStr(d, &rel)
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				if rel == "approval_url" {
					p.ApprovalURL = href
				}
				return nil
			})
		case "payer":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "payer_info" {
					return d.Skip()
				}
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "payer_id" {
						return d.Skip()
					}
					return decodeStr(d, &p.PayerID)
				})
			})
		case "transactions":
			first := true
			return d.Arr(func(d *jx.Decoder) error {
				if !first {
					return d.Skip()
				}
				first = false
				return decodeTransaction(d, &p)
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode payment")
	}
	return &p, nil
}

func decodeTransaction(d *jx.Decoder, p *paymentResponse) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "amount":
			return d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "total":
					v, err := decodeDecimal(d)
					p.Amount = v
					return err
				case "currency":
					return decodeStr(d, &p.Currency)
				default:
					return d.Skip()
				}
			})
		case "related_resources":
			return d.Arr(func(d *jx.Decoder) error {
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "sale" {
						return d.Skip()
					}
					return d.Obj(func(d *jx.Decoder, key string) error {
						if key != "state" {
							return d.Skip()
						}
						return decodeStr(d, &p.SaleState)
					})
				})
			})
		default:
			return d.Skip()
		}
	})
}

func decodeAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "name", "error":
			return decodeStr(d, &e.Name)
		case "message", "error_description":
			return decodeStr(d, &e.Message)
		default:
			return d.Skip()
		}
	})
	return e
}

func decodeStr(d *jx.Decoder, dst *string) error {
	v, err := d.Str()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	default:
		return decimal.Zero, errors.Errorf("unexpected %s for amount", d.Next())
	}
}
