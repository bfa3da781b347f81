package model

import "strings"

// Category identifies the document taxonomy used throughout the pipeline.
type Category string

const (
	CategoryPassport          Category = "PASSPORT"
	CategoryEmiratesID        Category = "EMIRATES_ID"
	CategoryVisa              Category = "VISA"
	CategoryTradeLicense      Category = "TRADE_LICENSE"
	CategoryLaborCard         Category = "LABOR_CARD"
	CategoryEstablishmentCard Category = "ESTABLISHMENT_CARD"
	CategoryMOA               Category = "MOA"
	CategoryBankStatement     Category = "BANK_STATEMENT"
	CategoryInvoice           Category = "INVOICE"
	CategoryContract          Category = "CONTRACT"
	CategoryIDCard            Category = "ID_CARD"
	CategoryUnknown           Category = "UNKNOWN"
)

// AllCategories returns every category in the taxonomy, UNKNOWN last.
func AllCategories() []Category {
	return []Category{
		CategoryPassport,
		CategoryEmiratesID,
		CategoryVisa,
		CategoryTradeLicense,
		CategoryLaborCard,
		CategoryEstablishmentCard,
		CategoryMOA,
		CategoryBankStatement,
		CategoryInvoice,
		CategoryContract,
		CategoryIDCard,
		CategoryUnknown,
	}
}

// categoryAliases maps common model-emitted names to taxonomy categories.
var categoryAliases = map[string]Category{
	"passport":           CategoryPassport,
	"travel document":    CategoryPassport,
	"emirates id":        CategoryEmiratesID,
	"eid":                CategoryEmiratesID,
	"national id":        CategoryEmiratesID,
	"residence visa":     CategoryVisa,
	"entry permit":       CategoryVisa,
	"visa":               CategoryVisa,
	"trade license":      CategoryTradeLicense,
	"commercial license": CategoryTradeLicense,
	"business license":   CategoryTradeLicense,
	"labour card":        CategoryLaborCard,
	"labor card":         CategoryLaborCard,
	"work permit":        CategoryLaborCard,
	"establishment card": CategoryEstablishmentCard,
	"company card":       CategoryEstablishmentCard,
	"moa":                CategoryMOA,
	"memorandum":         CategoryMOA,
	"articles of association": CategoryMOA,
	"bank statement":     CategoryBankStatement,
	"account statement":  CategoryBankStatement,
	"invoice":            CategoryInvoice,
	"tax invoice":        CategoryInvoice,
	"bill":               CategoryInvoice,
	"contract":           CategoryContract,
	"agreement":          CategoryContract,
	"id card":            CategoryIDCard,
	"identity card":      CategoryIDCard,
	"identification":     CategoryIDCard,
}

// NormalizeCategory resolves a free-form category name emitted by the model
// into the closed taxonomy. Resolution order: exact case-insensitive match,
// alias table, substring fuzz against taxonomy names. Unresolvable names
// become UNKNOWN.
func NormalizeCategory(raw string) Category {
	cleaned := strings.TrimSpace(strings.ToLower(raw))
	if cleaned == "" {
		return CategoryUnknown
	}

	// Exact match against the taxonomy, tolerating space/hyphen separators.
	canonical := strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_").Replace(cleaned))
	for _, c := range AllCategories() {
		if string(c) == canonical {
			return c
		}
	}

	if c, ok := categoryAliases[cleaned]; ok {
		return c
	}

	// Substring fuzz: either direction, against taxonomy names with
	// underscores flattened.
	for _, c := range AllCategories() {
		if c == CategoryUnknown {
			continue
		}
		name := strings.ToLower(strings.ReplaceAll(string(c), "_", " "))
		if strings.Contains(cleaned, name) || strings.Contains(name, cleaned) {
			return c
		}
	}

	return CategoryUnknown
}
