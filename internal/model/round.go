package model

// RoundTransition описывает переход круга на следующий раунд.
type RoundTransition struct {
	NewRound int
	Complete bool
}

// NextRound вычисляет переход круга после подтверждённой выплаты участнику
// текущего раунда. Это единственный триггер смены раунда: номер
// увеличивается на единицу, и круг завершается, когда номер превышает
// число участников.
func NextRound(currentRound, totalMembers int) RoundTransition {
	newRound := currentRound + 1
	return RoundTransition{
		NewRound: newRound,
		Complete: newRound > totalMembers,
	}
}
