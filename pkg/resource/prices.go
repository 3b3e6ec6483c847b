package resource

// price is USD per million tokens.
type price struct {
	input  float64
	output float64
}

// priceTable is the static model price table. Unknown models fall back to
// zero rates and report an estimated cost of 0.
var priceTable = map[string]price{
	"gpt-4o":                   {input: 2.50, output: 10.00},
	"gpt-4o-mini":              {input: 0.15, output: 0.60},
	"gpt-4.1":                  {input: 2.00, output: 8.00},
	"gpt-4.1-mini":             {input: 0.40, output: 1.60},
	"claude-sonnet-4-20250514": {input: 3.00, output: 15.00},
	"claude-haiku-3-5":         {input: 0.80, output: 4.00},
	"deepseek-chat":            {input: 0.27, output: 1.10},
	"kimi-k2":                  {input: 0.60, output: 2.50},
}

func lookupPrice(modelID string) (float64, float64) {
	if p, ok := priceTable[modelID]; ok {
		return p.input, p.output
	}
	return 0, 0
}
