// Package config содержит логику чтения конфигурации маркетплейса.
package config

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации маркетплейса доставки еды.
// Тарифные параметры задают текущие значения платформы: при создании заказа
// они копируются в снимок на заказе и дальнейшие изменения на него не влияют.
type Config struct {
	RunAddress      string
	DatabaseURI     string
	GeocoderAddress string
	ActorSecret     string

	DeliveryFeeMinor      int64
	ServiceFeeMinor       int64
	TaxRateBasisPoints    int64
	CommissionBasisPoints int64
	DriverPayoutMinor     int64
}

// envConfig читает переменные окружения строками: незаданная переменная
// отличима от заданного нуля, поэтому через окружение можно выставить
// нулевой тариф.
type envConfig struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	GeocoderAddress string `env:"GEOCODER_ADDRESS"`
	ActorSecret     string `env:"ACTOR_SECRET"`

	DeliveryFee  string `env:"DELIVERY_FEE"`
	ServiceFee   string `env:"SERVICE_FEE"`
	TaxRateBP    string `env:"TAX_RATE_BP"`
	CommissionBP string `env:"COMMISSION_BP"`
	DriverPayout string `env:"DRIVER_PAYOUT"`
}

func overrideInt64(dst *int64, raw, name string) error {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = v
	return nil
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	envCfg := &envConfig{}
	if err := env.Parse(envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GeocoderAddress, "g", "", "geocoder service address")
	flag.StringVar(&cfg.ActorSecret, "s", "", "actor token secret")
	flag.Int64Var(&cfg.DeliveryFeeMinor, "delivery-fee", 2500, "delivery fee in minor units")
	flag.Int64Var(&cfg.ServiceFeeMinor, "service-fee", 500, "service fee in minor units")
	flag.Int64Var(&cfg.TaxRateBasisPoints, "tax-bp", 1000, "tax rate in basis points")
	flag.Int64Var(&cfg.CommissionBasisPoints, "commission-bp", 2000, "platform commission in basis points")
	flag.Int64Var(&cfg.DriverPayoutMinor, "driver-payout", 2000, "driver payout per order in minor units")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.GeocoderAddress != "" {
		cfg.GeocoderAddress = envCfg.GeocoderAddress
	}
	if envCfg.ActorSecret != "" {
		cfg.ActorSecret = envCfg.ActorSecret
	}

	if err := overrideInt64(&cfg.DeliveryFeeMinor, envCfg.DeliveryFee, "DELIVERY_FEE"); err != nil {
		return nil, err
	}
	if err := overrideInt64(&cfg.ServiceFeeMinor, envCfg.ServiceFee, "SERVICE_FEE"); err != nil {
		return nil, err
	}
	if err := overrideInt64(&cfg.TaxRateBasisPoints, envCfg.TaxRateBP, "TAX_RATE_BP"); err != nil {
		return nil, err
	}
	if err := overrideInt64(&cfg.CommissionBasisPoints, envCfg.CommissionBP, "COMMISSION_BP"); err != nil {
		return nil, err
	}
	if err := overrideInt64(&cfg.DriverPayoutMinor, envCfg.DriverPayout, "DRIVER_PAYOUT"); err != nil {
		return nil, err
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
