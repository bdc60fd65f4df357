package schema

// Built-in descriptors for the export families the dashboard receives
// today. Header aliases reflect spellings observed in real vendor files;
// unknown columns are always staged verbatim regardless of this list.

func init() {
	Register(&Descriptor{
		Type:       SourceEquipment,
		Family:     FamilyEquipment,
		NaturalKey: "item_num",
		Fields: []Field{
			{Name: "item_num", Aliases: []string{"itemnum", "item number", "key"}, Type: FieldText},
			{Name: "name", Aliases: []string{"item name", "description", "desc"}, Type: FieldText},
			{Name: "category", Aliases: []string{"cat", "category name"}, Type: FieldText},
			{Name: "department", Aliases: []string{"dept", "department name"}, Type: FieldText},
			{Name: "store_code", Aliases: []string{"store", "store no", "current store", "loc"}, Type: FieldText},
			{Name: "qty_owned", Aliases: []string{"qty", "quantity", "qty owned"}, Type: FieldNumber},
			{Name: "sell_price", Aliases: []string{"sell", "price", "retail price"}, Type: FieldMoney},
			{Name: "turnover_ytd", Aliases: []string{"t/o ytd", "to ytd", "turnover"}, Type: FieldMoney},
			{Name: "inactive", Aliases: []string{"inactive flag", "is inactive"}, Type: FieldBool},
		},
	})

	Register(&Descriptor{
		Type:       SourceCustomer,
		Family:     FamilyStaging,
		NaturalKey: "cnum",
		Fields: []Field{
			{Name: "cnum", Aliases: []string{"customer number", "cust no", "customer #"}, Type: FieldText},
			{Name: "name", Aliases: []string{"customer name"}, Type: FieldText},
			{Name: "city", Type: FieldText},
			{Name: "zip", Aliases: []string{"zip code", "postal"}, Type: FieldText},
			{Name: "ytd_payments", Aliases: []string{"ytd paid", "payments ytd"}, Type: FieldMoney},
			{Name: "open_date", Aliases: []string{"opened", "date opened"}, Type: FieldDate},
		},
	})

	Register(&Descriptor{
		Type:       SourceTransaction,
		Family:     FamilyStaging,
		NaturalKey: "contract_num",
		Fields: []Field{
			{Name: "contract_num", Aliases: []string{"contract number", "contract #", "cntr"}, Type: FieldText},
			{Name: "store_code", Aliases: []string{"store", "store no"}, Type: FieldText},
			{Name: "cnum", Aliases: []string{"customer number", "cust no"}, Type: FieldText},
			{Name: "status", Type: FieldText},
			{Name: "contract_date", Aliases: []string{"date", "billed date"}, Type: FieldDate},
			{Name: "total", Aliases: []string{"total amount", "amount"}, Type: FieldMoney},
			{Name: "total_paid", Aliases: []string{"paid", "amount paid"}, Type: FieldMoney},
		},
	})

	Register(&Descriptor{
		Type:       SourceLineItem,
		Family:     FamilyInventory,
		NaturalKey: "rental_class_num",
		Fields: []Field{
			{Name: "rental_class_num", Aliases: []string{"rental class", "rental class id", "class num", "class"}, Type: FieldText},
			{Name: "common_name", Aliases: []string{"common name", "item description", "name"}, Type: FieldText},
			{Name: "location", Aliases: []string{"home location", "current location", "bin"}, Type: FieldText},
			{Name: "quantity", Aliases: []string{"qty", "quantity on hand"}, Type: FieldNumber},
			{Name: "tag_count", Aliases: []string{"tags", "tag qty", "rfid tags"}, Type: FieldNumber},
			{Name: "last_scanned", Aliases: []string{"scan date", "last scan date"}, Type: FieldDate},
		},
	})

	Register(&Descriptor{
		Type:   SourceScorecard,
		Family: FamilyPeriodFact,
		Fields: []Field{
			{Name: "week_ending", Aliases: []string{"week ending sunday", "week"}, Type: FieldDate},
			{Name: "total_weekly_revenue", Aliases: []string{"total weekly revenue"}, Type: FieldMoney},
		},
		Pivot: &PivotSpec{
			TimeField: "week_ending",
			Metrics: []string{
				"revenue", "new_contracts", "reservation_next14",
				"total_reservation", "ar_over_45_days_percent", "discount",
			},
		},
	})

	Register(&Descriptor{
		Type:   SourcePayroll,
		Family: FamilyPeriodFact,
		Fields: []Field{
			{Name: "period_ending", Aliases: []string{"2 week ending", "pay period ending"}, Type: FieldDate},
		},
		Pivot: &PivotSpec{
			TimeField: "period_ending",
			Metrics:   []string{"rental_revenue", "all_revenue", "payroll", "wage_hours"},
		},
	})

	Register(&Descriptor{
		Type:   SourcePNL,
		Family: FamilyPeriodFact,
		Fields: []Field{
			{Name: "month_ending", Aliases: []string{"month", "period"}, Type: FieldDate},
		},
		Pivot: &PivotSpec{
			TimeField: "month_ending",
			Metrics:   []string{"revenue", "cogs", "gross_profit", "expenses", "net_income"},
		},
	})
}
