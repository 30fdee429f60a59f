// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// Веса CBN для расчёта контрольной цифры NUBAN.
var nubanWeights = [12]int{3, 7, 3, 3, 7, 3, 3, 7, 3, 3, 7, 3}

// IsValidAccountNumber проверяет нигерийский номер счёта NUBAN
// (9 цифр серийного номера и контрольная цифра) относительно кода банка.
func IsValidAccountNumber(bankCode, number string) bool {
	if len(bankCode) != 3 || len(number) != 10 {
		return false
	}
	if !allDigits(bankCode) || !allDigits(number) {
		return false
	}

	sum := 0
	for i := 0; i < 3; i++ {
		sum += int(bankCode[i]-'0') * nubanWeights[i]
	}
	for i := 0; i < 9; i++ {
		sum += int(number[i]-'0') * nubanWeights[i+3]
	}

	check := 10 - sum%10
	if check == 10 {
		check = 0
	}

	return check == int(number[9]-'0')
}

func allDigits(s string) bool {
	for _, ch := range s {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}
