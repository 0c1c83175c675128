package cli

import (
	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/provider/deepseek"
	"github.com/mrz1836/balancewatch/internal/provider/moonshot"
	"github.com/mrz1836/balancewatch/internal/provider/newapi"
	"github.com/mrz1836/balancewatch/internal/provider/openrouter"
)

// NewAdapterFactory returns a factory with every built-in vendor adapter
// registered under its balance method.
func NewAdapterFactory() *balance.ConfigurableFactory {
	f := balance.NewConfigurableFactory()
	f.Register(deepseek.Method, deepseek.New)
	f.Register(moonshot.Method, moonshot.New)
	f.Register(newapi.Method, newapi.New)
	f.Register(openrouter.Method, openrouter.New)
	return f
}
