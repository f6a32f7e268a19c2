package nnet

// UpdateEMA moves teacher toward student:
// teacher = alpha*teacher + (1-alpha)*student with
// alpha = min(1 - 1/(step+1), factor), so early steps copy the student.
func UpdateEMA(teacher, student *LinearSED, factor float64, step int) {
	alpha := 1 - 1/float64(step+1)
	if factor < alpha {
		alpha = factor
	}
	tp, sp := teacher.Params(), student.Params()
	for i := range tp {
		for j := range tp[i] {
			tp[i][j] = alpha*tp[i][j] + (1-alpha)*sp[i][j]
		}
	}
}
