package http

import (
	"errors"
	"html/template"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cutpro/internal/core"
)

var templateFuncs = template.FuncMap{
	"brl":       formatMoney,
	"pct1":      formatPercentOneDecimal,
	"pct0":      formatPercentWhole,
	"width":     barWidth,
	"kindLabel": kindLabel,
	"isIncome":  func(k core.Kind) bool { return k == core.Income },
	"dateBR":    func(t time.Time) string { return t.Format("02/01/2006") },
}

func formatMoney(m core.Money) string {
	return core.FormatBRL(m.Cents)
}

// formatPercentOneDecimal renders 33.333 as "33,3%".
func formatPercentOneDecimal(p float64) string {
	return strings.Replace(strconv.FormatFloat(p, 'f', 1, 64), ".", ",", 1) + "%"
}

func formatPercentWhole(p float64) string {
	return strconv.Itoa(int(math.Round(p))) + "%"
}

// barWidth clamps a percentage to a CSS width, keeping tiny non-zero values
// visible.
func barWidth(p float64) int {
	w := int(math.Round(p))
	if p > 0 && w < 2 {
		w = 2
	}
	if w > 100 {
		w = 100
	}
	if w < 0 {
		w = 0
	}
	return w
}

func kindLabel(k core.Kind) string {
	switch k {
	case core.Income:
		return "Receita"
	case core.Expense:
		return "Despesa"
	default:
		return string(k)
	}
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

var validationMessages = []struct {
	err error
	msg string
}{
	{core.ErrInvalidAmount, "Valor inválido: informe um número maior que zero"},
	{core.ErrInvalidKind, "Tipo inválido: escolha receita ou despesa"},
	{core.ErrEmptyCategory, "Informe uma categoria"},
	{core.ErrCategoryTooLong, "Categoria muito longa (máx. 60 caracteres)"},
	{core.ErrDescriptionTooLong, "Descrição muito longa (máx. 200 caracteres)"},
	{core.ErrEmptyName, "Informe o nome da meta"},
	{core.ErrNameTooLong, "Nome da meta muito longo (máx. 100 caracteres)"},
	{errInvalidDate, "Data inválida: use o formato AAAA-MM-DD"},
}

// classifyError maps a service error to a status code and a message safe to
// show the user.
func classifyError(err error) (int, string) {
	for _, v := range validationMessages {
		if errors.Is(err, v.err) {
			return http.StatusUnprocessableEntity, v.msg
		}
	}
	if errors.Is(err, core.ErrEmptyOwner) {
		return http.StatusBadRequest, "Sessão inválida. Recarregue a página."
	}
	return http.StatusInternalServerError, "Não foi possível salvar. Tente novamente."
}
