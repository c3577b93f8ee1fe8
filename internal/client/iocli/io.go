package iocli

// IO абстрагирует терминальный ввод-вывод клиента. Команды пишут
// через него, тесты подменяют его буфером. Write делает IO пригодным
// как io.Writer для вывода cobra.
type IO interface {
	Println(a ...any)
	Printf(format string, a ...any)
	ReadInput(prompt string) (string, error)
	ReadPassword(prompt string) (string, error)
	Write(p []byte) (n int, err error)
}
