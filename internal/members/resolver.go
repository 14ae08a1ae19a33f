package members

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmeshcher/crajybot/internal/model"
)

// Ref - ссылка на участника: либо идентификатор, либо отображаемое имя.
type Ref struct {
	id   int64
	name string
}

// ByIdentifier ссылается на участника по идентификатору.
func ByIdentifier(id int64) Ref { return Ref{id: id} }

// ByDisplayName ссылается на участника по имени или никнейму.
func ByDisplayName(name string) Ref { return Ref{name: strings.TrimSpace(name)} }

// ParseRef разбирает аргумент команды: число или упоминание <@id> дают ByIdentifier, остальное - ByDisplayName.
func ParseRef(text string) Ref {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "<@") && strings.HasSuffix(s, ">") {
		s = strings.TrimPrefix(strings.TrimSuffix(s[2:], ">"), "!")
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
		return ByIdentifier(id)
	}
	return ByDisplayName(text)
}

// IsZero сообщает, что ссылка пуста.
func (r Ref) IsZero() bool { return r.id == 0 && r.name == "" }

func (r Ref) String() string {
	if r.id != 0 {
		return strconv.FormatInt(r.id, 10)
	}
	return r.name
}

// Directory отдаёт список участников сервера.
type Directory interface {
	ListMembers(ctx context.Context) ([]Member, error)
}

// Resolver превращает Ref в идентификатор участника.
type Resolver struct {
	dir Directory
}

// NewResolver создаёт резолвер. Без справочника разрешаются только идентификаторы.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve возвращает идентификатор участника. Имя сравнивается без учёта регистра
// сначала с именами, затем с никнеймами; при отсутствии совпадений возвращается model.ErrUnknownUser.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (int64, error) {
	if ref.id > 0 {
		return ref.id, nil
	}
	if ref.name == "" {
		return 0, fmt.Errorf("%w: empty reference", model.ErrUnknownUser)
	}
	if r.dir == nil {
		return 0, fmt.Errorf("%w: %q (no member directory)", model.ErrUnknownUser, ref.name)
	}

	list, err := r.dir.ListMembers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list members: %w", err)
	}

	if m, ok := find(list, ref.name); ok {
		return m.ID, nil
	}
	return 0, fmt.Errorf("%w: %q", model.ErrUnknownUser, ref.name)
}

func find(list []Member, name string) (Member, bool) {
	for _, m := range list {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	for _, m := range list {
		if m.Nick != nil && strings.EqualFold(*m.Nick, name) {
			return m, true
		}
	}
	return Member{}, false
}
