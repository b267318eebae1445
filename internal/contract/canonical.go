package contract

// CanonicalMenuItem is the contract every item must satisfy after the
// canonical transform, regardless of source. It validates the canonical
// field shapes: resolved reference IDs, integer price in cents, and the
// closed status set.
func CanonicalMenuItem() Contract {
	return NewSchema(
		Required("external_id", IsString(), Filled()),
		Required("name", IsString(), Filled()),
		Optional("brand_id", IsInt()),
		Optional("strain_id", IsInt()),
		Optional("tag_ids", IntArray()),
		Optional("price_cents", IsInt(), GreaterThan(0)),
		Required("status", OneOf("active", "inactive")),
	)
}
