// Package pricer adapts external market data endpoints into price sources.
package pricer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/coincraze/internal/domain"
)

// ErrUnusable is returned when a response parses but carries no positive price.
var ErrUnusable = errors.New("unusable price")

// Source fetches the current price of a pair from one external endpoint.
type Source interface {
	Name() string
	GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}

// extract evaluates path against a decoded JSON document and returns a strictly positive decimal.
func extract(doc any, path string) (decimal.Decimal, error) {
	val, err := jsonpath.Get(path, doc)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrUnusable, "path %s: %v", path, err)
	}

	// jsonpath returns a list for wildcard paths, keep the first match
	if list, ok := val.([]any); ok {
		if len(list) == 0 {
			return decimal.Zero, errors.Wrapf(ErrUnusable, "path %s matched nothing", path)
		}
		val = list[0]
	}

	price, err := toDecimal(val)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "path %s", path)
	}

	return price, nil
}

func toDecimal(val any) (decimal.Decimal, error) {
	var (
		price decimal.Decimal
		err   error
	)

	switch v := val.(type) {
	case float64:
		price, err = domain.AmountFromFloat(v)
	case json.Number:
		price, err = decimal.NewFromString(v.String())
	case string:
		price, err = decimal.NewFromString(strings.TrimSpace(v))
	default:
		return decimal.Zero, errors.Wrapf(ErrUnusable, "unexpected value type %T", val)
	}
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrUnusable, "parse %v: %v", val, err)
	}

	return positive(price)
}

func positive(price decimal.Decimal) (decimal.Decimal, error) {
	if !domain.ValidPrice(price) {
		return decimal.Zero, errors.Wrapf(ErrUnusable, "price %s is not positive", price)
	}
	return price, nil
}

// quoteSymbol maps fiat USD onto the stablecoin most exchanges quote in.
func quoteSymbol(pair domain.Pair, stable string) string {
	if strings.EqualFold(pair.To, "USD") {
		return strings.ToUpper(pair.From) + stable
	}
	return pair.Symbol()
}

func emptyResponse(source string, pair domain.Pair) error {
	return errors.Wrap(ErrUnusable, fmt.Sprintf("%s returned empty prices for %s", source, pair.String()))
}
