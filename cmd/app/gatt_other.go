//go:build !linux

package main

import (
	"github.com/charmbracelet/log"

	"github.com/hubertat/swboard/radio"
)

func newGattStack() radio.GattStack {
	log.Warn("no bluetooth stack on this os, using the simulated one")
	return radio.NewMockStack()
}
