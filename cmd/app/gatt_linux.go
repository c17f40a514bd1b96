//go:build linux

package main

import "github.com/hubertat/swboard/radio"

func newGattStack() radio.GattStack {
	return radio.NewBluezStack()
}
