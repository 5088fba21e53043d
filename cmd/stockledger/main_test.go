package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retailops/stockledger/internal/app"
	_ "github.com/retailops/stockledger/testing"
)

func TestMainReturnsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}
