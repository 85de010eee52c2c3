// Package w25qxx drives Winbond W25Qxx compatible SPI NOR flash chips.
//
// The driver tracks a small state machine (idle, busy, error) and performs
// each write enable handshake, page program and erase as short bus
// transactions, polling status register 1 for completion in between.
//
// Any [Bus] works: *spizero.SPI over spidev, periph.io or a CH347 bridge.
package w25qxx
