package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// raffleFile is the YAML layout of RAFFLE_FILE. unit_price is a string so
// that amounts like "1500.50" are never rounded through float64.
type raffleFile struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	UnitPrice   string `yaml:"unit_price"`
	Currency    string `yaml:"currency"`
	PoolSize    int    `yaml:"pool_size"`
	NumberWidth int    `yaml:"number_width"`
}

func DefaultRaffle() domain.Raffle {
	return domain.Raffle{
		Title:       "Alarma Moto",
		Description: "Ticket para la rifa de una alarma de última generación para motocicleta",
		UnitPrice:   decimal.NewFromInt(1500),
		Currency:    "ARS",
		PoolSize:    10000,
		NumberWidth: 4,
	}
}

// LoadRaffle reads the raffle definition from path. Missing fields keep their
// defaults; an empty path returns the defaults.
func LoadRaffle(path string) (domain.Raffle, error) {
	r := DefaultRaffle()
	if path == "" {
		return r, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return domain.Raffle{}, fmt.Errorf("read raffle file: %w", err)
	}

	var f raffleFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return domain.Raffle{}, fmt.Errorf("parse raffle file: %w", err)
	}

	if f.Title != "" {
		r.Title = f.Title
	}
	if f.Description != "" {
		r.Description = f.Description
	}
	if f.Currency != "" {
		r.Currency = f.Currency
	}
	if f.PoolSize != 0 {
		r.PoolSize = f.PoolSize
	}
	if f.NumberWidth != 0 {
		r.NumberWidth = f.NumberWidth
	}
	if f.UnitPrice != "" {
		price, err := decimal.NewFromString(f.UnitPrice)
		if err != nil {
			return domain.Raffle{}, fmt.Errorf("parse raffle unit_price: %w", err)
		}
		r.UnitPrice = price
	}

	if err := validateRaffle(r); err != nil {
		return domain.Raffle{}, err
	}

	return r, nil
}

func validateRaffle(r domain.Raffle) error {
	if !r.UnitPrice.IsPositive() {
		return errors.New("raffle unit_price must be positive")
	}
	if r.PoolSize <= 0 || r.NumberWidth <= 0 || r.NumberWidth > 9 {
		return errors.New("raffle pool_size and number_width must be positive")
	}
	if float64(r.PoolSize) > math.Pow10(r.NumberWidth) {
		return fmt.Errorf("raffle pool_size %d does not fit in %d digits", r.PoolSize, r.NumberWidth)
	}
	return nil
}
