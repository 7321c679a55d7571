// Точка входа review-build — сборка JSON-фида отзывов из markdown-корпуса.
//
//	review-build            собрать фид (то же, что build)
//	review-build build      собрать фид; при ошибке восстановить предыдущий, код 1
//	review-build validate   проверить корпус по строгой схеме, код 1 при нарушениях
//	review-build watch      пересобирать фид при изменении корпуса
package main

import (
	"fmt"
	"os"
)

func main() {
	root, err := newRootCmd()
	if err == nil {
		err = root.Execute()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "review-build: %v\n", err)
		os.Exit(1)
	}
}
