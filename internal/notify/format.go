// Package notify formats matched listings and delivers them to subscribers
// through a paced queue.
package notify

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"realty_tracker/internal/filter"
	"realty_tracker/internal/model"
)

// AdvisoryText is sent once per cycle to a request that matched more
// listings than it may be notified about.
const AdvisoryText = "Too many new listings match your request. Please narrow your criteria with /request."

// Format renders a listing as a notification message: a summary line, the
// address line and the listing url.
func Format(e model.Entity, url string) string {
	usd := filter.PriceUSD(e)

	prices := []string{num(e.Price) + e.Currency.Symbol()}
	if e.Bedrooms > 0 {
		prices = append(prices, fmt.Sprintf("%.0f$/🛏️", math.Ceil(usd/float64(e.Bedrooms))))
	}
	if e.AreaSize > 0 {
		prices = append(prices, fmt.Sprintf("%.0f$/m2", math.Ceil(usd/e.AreaSize)))
	}

	var areas []string
	if e.AreaSize > 0 {
		areas = append(areas, num(e.AreaSize)+"m2")
	}
	if e.YardAreaSize != nil && *e.YardAreaSize > 0 {
		areas = append(areas, "+ 🌲 "+num(*e.YardAreaSize)+"m2")
	}

	var rooms []string
	if e.Rooms > 0 {
		rooms = append(rooms, strconv.Itoa(e.Rooms)+"🚪")
	}
	if e.Bedrooms > 0 {
		rooms = append(rooms, strconv.Itoa(e.Bedrooms)+"🛏️")
	}

	var summary []string
	for _, part := range [][]string{prices, areas, rooms} {
		if len(part) > 0 {
			summary = append(summary, strings.Join(part, ", "))
		}
	}

	var addr []string
	if e.Location.Address != "" {
		addr = append(addr, e.Location.Address)
	}
	if s := e.Location.Subdistrict; s != nil && *s != "" {
		addr = append(addr, *s)
	}
	if d := e.Location.District; d != nil && *d != "" {
		addr = append(addr, *d)
	}

	return strings.Join([]string{
		strings.Join(summary, "; "),
		"> " + strings.Join(addr, ", "),
		url,
	}, "\n")
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Split breaks text into chunks of at most limit bytes, preferring line
// boundaries and never cutting a UTF-8 sequence.
func Split(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
			for cut > 0 && !isRuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
