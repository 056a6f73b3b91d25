package telemetry

const UnknownClass = "Unknown"

// DefaultClasses: таблица классов детектора.
var DefaultClasses = map[uint8]string{
	1: "Human",
	2: "Car",
	3: "Truck",
	4: "Motorcycle",
	5: "Animal",
	6: "Static Object",
}

// ClassTable: поиск имени класса. Неизвестные коды дают "Unknown".
type ClassTable map[uint8]string

// NewClassTable копирует DefaultClasses и накладывает extra поверх.
func NewClassTable(extra map[uint8]string) ClassTable {
	t := make(ClassTable, len(DefaultClasses)+len(extra))
	for k, v := range DefaultClasses {
		t[k] = v
	}
	for k, v := range extra {
		t[k] = v
	}
	return t
}

func (t ClassTable) Name(code uint8) string {
	if name, ok := t[code]; ok {
		return name
	}
	return UnknownClass
}
