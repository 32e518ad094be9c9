package excel

// SheetName is the only sheet read or written
const SheetName = "Sheet1"

// column locates one header cell: the vertex it belongs to and which of the
// vertex's columns it holds.
type column struct {
	vertex string
	index  int
}
