package cli

import (
	"github.com/spf13/cobra"

	"github.com/zetra-hq/zetra-sync/internal/client/auth"
	"github.com/zetra-hq/zetra-sync/internal/client/data"
	"github.com/zetra-hq/zetra-sync/internal/client/iocli"
	"github.com/zetra-hq/zetra-sync/internal/client/sync"
)

// Cli связывает команды с сервисами клиента
type Cli struct {
	io          iocli.IO
	authService auth.Service
	dataService data.Service
	syncService sync.Service
}

// New создает корневую команду клиента
func New(io iocli.IO, authService auth.Service, dataService data.Service, syncService sync.Service) *cobra.Command {
	c := &Cli{
		io:          io,
		authService: authService,
		dataService: dataService,
		syncService: syncService,
	}

	root := &cobra.Command{
		Use:          "zetra",
		Short:        "Zetra offline-first sync client",
		Long:         "Zetra client keeps a local copy of your data and synchronizes it with the server when you are online.",
		SilenceUsage: true,
	}

	// Вывод cobra (usage, ошибки) идет через тот же IO, что и команды
	root.SetOut(io)
	root.SetErr(io)

	root.AddCommand(
		c.registerCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.statusCmd(),
		c.addCmd(),
		c.listCmd(),
		c.getCmd(),
		c.updateCmd(),
		c.deleteCmd(),
		c.syncCmd(),
		c.conflictsCmd(),
	)

	return root
}

// readCredentials запрашивает username и пароль.
// Пароль читается без эха через терминал.
func (c *Cli) readCredentials() (string, string, error) {
	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return "", "", err
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return "", "", err
	}

	return username, password, nil
}
