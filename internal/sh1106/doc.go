// Package sh1106 drives a 128x64 monochrome SH1106 OLED controller over SPI.
//
// The controller holds 132 columns by 8 pages of display RAM. Each page is
// 8 pixel rows tall and each RAM byte is one column of a page, with bit 0 at
// the top. The panel shows columns 2..129, so every column address sent by
// this package is shifted by ColumnOffset.
//
// # Hardware Connection
//
//	Display Pin → System Pin
//	SCK         → SPI Clock (SCLK)
//	MOSI        → SPI Data (MOSI)
//	CS          → GPIO, or the SPI chip select when cs is nil
//	DC (A0)     → GPIO
//	RES         → GPIO (optional)
//
// # Transactions
//
// Bytes are sent inside bus transactions: chip-select is asserted and the Dev
// is locked on entry, and both are released on every exit path, including
// transfer errors. Most methods use a single transaction; Clear uses one per
// page. Multi-byte commands such as a column address pair or contrast
// prefix+value never straddle two transactions.
//
// Chip-select stays low for a whole transaction only when it is driven as a
// GPIO. With the port's own chip-select (cs nil in New) every Tx is its own
// CS frame, so each DC switch and each MaxTxSize split releases the line;
// Clear, for example, addresses a page in one frame and fills it in the
// next. The lock still keeps other callers out between those frames.
//
// # Addressing
//
// SetPosition takes a logical column and page. The page is offset by the
// number of whole pages the current hardware scroll represents, so content
// drawn at page y stays at the same screen row after SetScroll moves the
// start line by a multiple of 8. Draw calls only stream column bytes; the
// controller advances its own column pointer.
//
// # Datasheet
//
// https://www.velleman.eu/downloads/29/infosheets/sh1106_datasheet.pdf
package sh1106
