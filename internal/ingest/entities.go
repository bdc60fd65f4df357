package ingest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sandahltim/RFID3-sub003/internal/schema"
	"github.com/sandahltim/RFID3-sub003/internal/storage"
)

// Builders from cleaned (typed) values to business rows. Missing fields
// arrive as nil and map to zero values; the natural key is guaranteed
// present by the cleaner.

func equipmentFromValues(v map[string]any, payloadHash string, now time.Time) storage.Equipment {
	return storage.Equipment{
		ItemNum:     schema.NormalizeNaturalKey(asString(v["item_num"])),
		Name:        asString(v["name"]),
		Category:    asString(v["category"]),
		Department:  asString(v["department"]),
		StoreCode:   asString(v["store_code"]),
		QtyOwned:    asInt(v["qty_owned"]),
		SellPrice:   asDecimal(v["sell_price"]),
		TurnoverYTD: asDecimal(v["turnover_ytd"]),
		Inactive:    asBool(v["inactive"]),
		PayloadHash: payloadHash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func itemFromValues(v map[string]any, payloadHash string, now time.Time) storage.InventoryItem {
	return storage.InventoryItem{
		RentalClassNum: schema.NormalizeNaturalKey(asString(v["rental_class_num"])),
		CommonName:     asString(v["common_name"]),
		Location:       asString(v["location"]),
		Quantity:       asInt(v["quantity"]),
		TagCount:       asInt(v["tag_count"]),
		LastScanned:    asTime(v["last_scanned"]),
		PayloadHash:    payloadHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asDecimal(v any) decimal.Decimal {
	d, _ := v.(decimal.Decimal)
	return d
}

func asInt(v any) int64 {
	if d, ok := v.(decimal.Decimal); ok {
		return d.IntPart()
	}
	return 0
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asTime(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}
