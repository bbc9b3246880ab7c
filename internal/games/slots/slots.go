package slots

import (
	"errors"

	"github.com/shopspring/decimal"

	"minigames-backend/internal/rng"
)

const (
	Reels = 3
	Rows  = 3
)

type Kind string

const (
	Standard Kind = "standard"
	Wild     Kind = "wild"
	Scatter  Kind = "scatter"
)

type Symbol struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Value int64  `json:"value"`
	Kind  Kind   `json:"type"`
}

var Symbols = []Symbol{
	{0, "Cherry", 5, Standard},
	{1, "Bell", 10, Standard},
	{2, "Bar", 20, Standard},
	{3, "Bar2", 40, Standard},
	{4, "Bar3", 60, Standard},
	{5, "Seven", 100, Standard},
	{6, "Diamond", 200, Standard},
	{7, "Wild", 500, Wild},
	{8, "Scatter", 100, Scatter},
}

const (
	WildID    = 7
	ScatterID = 8
)

// Weights lists symbol ids; each entry is equally likely, so larger ids,
// listed fewer times, are rarer.
var Weights = []int{0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 3, 3, 3, 4, 4, 5, 5, 6, 7, 8}

type Cell struct{ Reel, Row int }

// Paylines are read left to right across the reels.
var Paylines = [][Reels]Cell{
	{{0, 0}, {1, 0}, {2, 0}},
	{{0, 1}, {1, 1}, {2, 1}},
	{{0, 2}, {1, 2}, {2, 2}},
	{{0, 0}, {1, 1}, {2, 2}},
	{{0, 2}, {1, 1}, {2, 0}},
}

var (
	ErrInvalidBet    = errors.New("bet must be positive")
	ErrUnknownSymbol = errors.New("unknown symbol id")
)

var (
	lineDivisor     = decimal.NewFromInt(5)
	wildLineValue   = decimal.NewFromInt(500)
	threeScatterPay = decimal.NewFromInt(5)
	moreScatterPay  = decimal.NewFromInt(10)
)

// Grid is indexed grid[reel][row].
type Grid [Reels][Rows]int

type LineWin struct {
	Line   int             `json:"line"`
	Symbol int             `json:"symbol"`
	Win    decimal.Decimal `json:"win"`
}

type Result struct {
	Grid         Grid            `json:"grid"`
	Bet          decimal.Decimal `json:"bet"`
	WinLines     []int           `json:"winLines"`
	LineFlags    [5]bool         `json:"lineFlags"`
	Lines        []LineWin       `json:"lines"`
	ScatterCount int             `json:"scatterCount"`
	ScatterWin   decimal.Decimal `json:"scatterWin"`
	TotalWin     decimal.Decimal `json:"totalWin"`
}

var reel = rng.NewWeighted(Weights)

func Fill(src rng.Source) Grid {
	var g Grid
	for c := 0; c < Reels; c++ {
		for r := 0; r < Rows; r++ {
			g[c][r] = reel.Sample(src)
		}
	}
	return g
}

func Spin(bet decimal.Decimal, src rng.Source) (Result, error) {
	if !bet.IsPositive() {
		return Result{}, ErrInvalidBet
	}
	return Evaluate(Fill(src), bet)
}

// Evaluate scores every payline and the scatter count independently and
// sums the wins.
func Evaluate(g Grid, bet decimal.Decimal) (Result, error) {
	if !bet.IsPositive() {
		return Result{}, ErrInvalidBet
	}
	res := Result{Grid: g, Bet: bet, ScatterWin: decimal.Zero, TotalWin: decimal.Zero, WinLines: []int{}}

	for c := 0; c < Reels; c++ {
		for r := 0; r < Rows; r++ {
			id := g[c][r]
			if id < 0 || id >= len(Symbols) {
				return Result{}, ErrUnknownSymbol
			}
			if Symbols[id].Kind == Scatter {
				res.ScatterCount++
			}
		}
	}
	if res.ScatterCount >= 3 {
		pay := moreScatterPay
		if res.ScatterCount == 3 {
			pay = threeScatterPay
		}
		res.ScatterWin = bet.Mul(pay)
		res.TotalWin = res.TotalWin.Add(res.ScatterWin)
	}

	for i, line := range Paylines {
		first := g[line[0].Reel][line[0].Row]
		count := 1
		for _, cell := range line[1:] {
			id := g[cell.Reel][cell.Row]
			if id != first && Symbols[id].Kind != Wild {
				break
			}
			count++
		}
		if count != Reels {
			continue
		}
		value := decimal.NewFromInt(Symbols[first].Value)
		if Symbols[first].Kind == Wild {
			value = wildLineValue
		}
		win := value.Mul(bet).Div(lineDivisor)
		res.TotalWin = res.TotalWin.Add(win)
		res.WinLines = append(res.WinLines, i)
		res.LineFlags[i] = true
		res.Lines = append(res.Lines, LineWin{Line: i, Symbol: first, Win: win})
	}
	res.TotalWin = res.TotalWin.Round(2)
	return res, nil
}
