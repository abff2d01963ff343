package db

// row is one kv_items record; item holds the full attribute map as JSONB.
type row struct {
	PK   string `db:"pk"`
	SK   string `db:"sk"`
	Item []byte `db:"item"`
}
