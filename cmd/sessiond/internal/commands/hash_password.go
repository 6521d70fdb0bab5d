package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wolfeidau/sessiond/internal/auth"
)

type HashPasswordCmd struct {
	Password string `help:"password to hash, read from stdin when omitted" env:"SESSIOND_PASSWORD"`
	Cost     int    `help:"bcrypt cost" default:"12"`
}

func (c *HashPasswordCmd) Run() error {
	return c.run(os.Stdin, os.Stdout)
}

func (c *HashPasswordCmd) run(in io.Reader, out io.Writer) error {
	password := c.Password
	if password == "" {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	hash, err := auth.NewHasher(c.Cost).Hash(password)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, hash)
	return err
}
